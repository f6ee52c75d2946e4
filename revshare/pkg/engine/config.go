package engine

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/ziswaf/revshare/revshare/pkg/pg"
	"github.com/ziswaf/revshare/revshare/pkg/settings"
)

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	DB       pg.DB
	Settings settings.Provider

	// AmilPartyID and DeveloperPartyID are the accounts that receive the
	// amil net and developer shares.
	AmilPartyID      string
	DeveloperPartyID string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	if cfg.Settings == nil {
		return errors.New("settings provider is required")
	}
	if strings.TrimSpace(cfg.AmilPartyID) == "" {
		return errors.New("amil party id is required")
	}
	if strings.TrimSpace(cfg.DeveloperPartyID) == "" {
		return errors.New("developer party id is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}
