package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ziswaf/revshare/revshare/pkg/pg"
)

var ErrNoSnapshot = errors.New("no settings snapshot configured")

// Provider serves the snapshot the engine must use for a new calculation.
type Provider interface {
	GetActiveConfigSnapshot(ctx context.Context) (Snapshot, error)
}

// Static always returns the same snapshot.
type Static Snapshot

func (s Static) GetActiveConfigSnapshot(context.Context) (Snapshot, error) {
	return Snapshot(s), nil
}

type StoreConfig struct {
	Logger *slog.Logger
	DB     pg.Querier
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	return nil
}

// Store persists every settings version; the highest version is active.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, cfg: cfg}, nil
}

// Save validates raw settings and stores them as the new active version.
func (s *Store) Save(ctx context.Context, kv map[string]string, actor string) (Snapshot, error) {
	snap, err := Parse(0, kv)
	if err != nil {
		return Snapshot{}, err
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s.insert(ctx, snap.KV(), actor)
}

// Import stores raw settings as written by the external settings screens,
// without save-time validation.
func (s *Store) Import(ctx context.Context, kv map[string]string, actor string) (Snapshot, error) {
	if _, err := Parse(0, kv); err != nil {
		return Snapshot{}, err
	}
	return s.insert(ctx, kv, actor)
}

func (s *Store) insert(ctx context.Context, kv map[string]string, actor string) (Snapshot, error) {
	raw, err := json.Marshal(kv)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to encode settings: %w", err)
	}

	var version int64
	err = s.cfg.DB.QueryRow(ctx,
		`INSERT INTO settings_snapshots (settings, created_by) VALUES ($1, $2) RETURNING version`,
		raw, actor,
	).Scan(&version)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to insert settings snapshot: %w", err)
	}

	s.log.Info("settings: snapshot saved", "version", version, "actor", actor)
	return s.Get(ctx, version)
}

// Get reads one snapshot version.
func (s *Store) Get(ctx context.Context, version int64) (Snapshot, error) {
	return s.read(ctx, `SELECT version, settings, created_at FROM settings_snapshots WHERE version = $1`, version)
}

// GetActiveConfigSnapshot returns the latest snapshot.
func (s *Store) GetActiveConfigSnapshot(ctx context.Context) (Snapshot, error) {
	return s.read(ctx, `SELECT version, settings, created_at FROM settings_snapshots ORDER BY version DESC LIMIT 1`)
}

func (s *Store) read(ctx context.Context, query string, args ...any) (Snapshot, error) {
	var (
		version int64
		raw     []byte
		kv      map[string]string
		snap    Snapshot
	)
	row := s.cfg.DB.QueryRow(ctx, query, args...)
	if err := row.Scan(&version, &raw, &snap.CreatedAt); err != nil {
		if pg.IsNotFound(err) {
			return Snapshot{}, ErrNoSnapshot
		}
		return Snapshot{}, fmt.Errorf("failed to read settings snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, &kv); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode settings snapshot %d: %w", version, err)
	}

	parsed, err := Parse(version, kv)
	if err != nil {
		return Snapshot{}, fmt.Errorf("settings snapshot %d: %w", version, err)
	}
	parsed.CreatedAt = snap.CreatedAt.UTC()
	return parsed, nil
}
