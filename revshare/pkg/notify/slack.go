// Package notify tells operators about events that need a human: deferred
// transactions, reversals blocked by allocations, and disbursement activity.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	slackmdgo "github.com/snormore/slackmd/slackgo"

	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/outbox"
)

// Poster sends a markdown message to a channel.
type Poster interface {
	Post(ctx context.Context, channel, markdown string) error
}

type slackPoster struct {
	api *slack.Client
}

func (p slackPoster) Post(ctx context.Context, channel, markdown string) error {
	_, err := slackmdgo.Post(ctx, p.api, channel, markdown,
		slackmdgo.WithFallbackText(markdown), slackmdgo.WithRetry(nil))
	return err
}

// NewSlackPoster posts through the Slack Web API with the given bot token.
func NewSlackPoster(botToken string) Poster {
	return slackPoster{api: slack.New(botToken)}
}

type SlackConfig struct {
	Logger  *slog.Logger
	Poster  Poster
	Channel string
}

func (cfg *SlackConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Poster == nil {
		return errors.New("poster is required")
	}
	if strings.TrimSpace(cfg.Channel) == "" {
		return errors.New("channel is required")
	}
	return nil
}

// Slack renders operator events as channel messages.
type Slack struct {
	log *slog.Logger
	cfg SlackConfig
}

func NewSlack(cfg SlackConfig) (*Slack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Slack{log: cfg.Logger, cfg: cfg}, nil
}

func (s *Slack) post(ctx context.Context, text string) error {
	if err := s.cfg.Poster.Post(ctx, s.cfg.Channel, text); err != nil {
		s.log.Warn("notify: slack post failed", "channel", s.cfg.Channel, "error", err)
		return fmt.Errorf("failed to post to slack: %w", err)
	}
	return nil
}

func (s *Slack) Deferred(ctx context.Context, p outbox.TransactionDeferred) error {
	return s.post(ctx, FormatDeferred(p))
}

func (s *Slack) Flagged(ctx context.Context, p outbox.ReconciliationFlagged) error {
	return s.post(ctx, FormatFlagged(p))
}

func (s *Slack) Disbursement(ctx context.Context, p outbox.DisbursementTransitioned) error {
	return s.post(ctx, FormatDisbursement(p))
}

func FormatDeferred(p outbox.TransactionDeferred) string {
	return fmt.Sprintf("*Transaction deferred* `%s`\n"+
		"Settings snapshot v%d breaks rule `%s`: %s\n"+
		"Attempts so far: %d. Fix the settings, then retry deferred transactions.",
		p.TransactionID, p.SnapshotVersion, p.Rule, p.Detail, p.Attempts)
}

func FormatFlagged(p outbox.ReconciliationFlagged) string {
	return fmt.Sprintf("*Reconciliation needed* for transaction `%s`\n"+
		"%s: %s\n"+
		"Flag `%s` stays open until resolved by an operator.",
		p.TransactionID, p.Kind, p.Detail, p.FlagID)
}

func FormatDisbursement(p outbox.DisbursementTransitioned) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Disbursement %s* `%s` (%s, %s)\n", p.Action, p.DisbursementID, p.Type, p.Category)
	if p.From != "" {
		fmt.Fprintf(&b, "%s → %s by %s", p.From, p.To, p.Actor)
	} else {
		fmt.Fprintf(&b, "%s by %s", p.To, p.Actor)
	}
	fmt.Fprintf(&b, ", amount Rp %s", money.Amount(p.Amount))
	if p.PartyID != "" {
		fmt.Fprintf(&b, " for %s:%s", p.PartyType, p.PartyID)
	}
	if p.Note != "" {
		fmt.Fprintf(&b, "\n> %s", p.Note)
	}
	return b.String()
}
