package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ziswaf/revshare/revshare/pkg/clickhouse"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
)

// MigrateDirection selects the goose command a migration run performs.
type MigrateDirection string

const (
	MigrateUp     MigrateDirection = "up"
	MigrateDown   MigrateDirection = "down"
	MigrateStatus MigrateDirection = "status"
)

func ParseMigrateDirection(s string) (MigrateDirection, error) {
	switch d := MigrateDirection(s); d {
	case MigrateUp, MigrateDown, MigrateStatus:
		return d, nil
	}
	return "", fmt.Errorf("unknown migrate direction %q (want up, down or status)", s)
}

// PgMigrate runs the ledger schema migrations in the given direction. Down
// rolls back only the most recent migration.
func PgMigrate(ctx context.Context, log *slog.Logger, cfg pg.Config, dir MigrateDirection) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	connStr := cfg.ConnString()
	switch dir {
	case MigrateUp:
		return pg.MigrateUp(ctx, log, connStr)
	case MigrateDown:
		return pg.MigrateDown(ctx, log, connStr)
	case MigrateStatus:
		return pg.MigrateStatus(ctx, log, connStr)
	}
	return fmt.Errorf("unknown migrate direction %q", dir)
}

// ClickHouseMigrate runs the analytics fact table migrations.
func ClickHouseMigrate(ctx context.Context, log *slog.Logger, cfg clickhouse.Config, dir MigrateDirection) error {
	switch dir {
	case MigrateUp:
		return clickhouse.Up(ctx, log, cfg)
	case MigrateDown:
		return clickhouse.Down(ctx, log, cfg)
	case MigrateStatus:
		return clickhouse.MigrationStatus(ctx, log, cfg)
	}
	return fmt.Errorf("unknown migrate direction %q", dir)
}
