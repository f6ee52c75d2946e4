package admin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ziswaf/revshare/revshare/pkg/clickhouse"
)

type ResetConfig struct {
	DryRun      bool
	SkipConfirm bool
	// In supplies the confirmation answer; Out receives the report.
	In  io.Reader
	Out io.Writer
}

// ResetClickHouse drops the revenue-share fact tables and the goose version
// table, so the next migrate up and backfill rebuild the analytics copy from
// the ledger. Postgres is never touched.
func ResetClickHouse(ctx context.Context, log *slog.Logger, client clickhouse.Client, cfg ResetConfig) error {
	conn, err := client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var database string
	dbRows, err := conn.Query(ctx, `SELECT currentDatabase()`)
	if err != nil {
		return fmt.Errorf("failed to query current database: %w", err)
	}
	if dbRows.Next() {
		err = dbRows.Scan(&database)
	}
	dbRows.Close()
	if err != nil {
		return fmt.Errorf("failed to scan current database: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT name
		FROM system.tables
		WHERE database = ?
		  AND (name LIKE 'revshare_fact_%' OR name = 'goose_db_version')
		ORDER BY name
	`, database)
	if err != nil {
		return fmt.Errorf("failed to query tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read tables: %w", err)
	}

	out := cfg.Out
	if len(tables) == 0 {
		fmt.Fprintln(out, "No revenue-share tables found")
		return nil
	}

	fmt.Fprintf(out, "WARNING: This will DROP %d table(s) from database '%s':\n\n", len(tables), database)
	for _, table := range tables {
		fmt.Fprintf(out, "  - %s\n", table)
	}

	if cfg.DryRun {
		fmt.Fprintln(out, "\n[DRY RUN] Would drop the above tables")
		return nil
	}

	if !cfg.SkipConfirm {
		fmt.Fprintf(out, "\nThe ledger in Postgres is kept; run a backfill afterwards.\n")
		fmt.Fprintf(out, "Type 'yes' to confirm: ")

		response, err := bufio.NewReader(cfg.In).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintf(out, "\nConfirmation failed. Operation cancelled.\n")
			return nil
		}
		fmt.Fprintln(out)
	}

	for _, table := range tables {
		if err := conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS `%s`", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
		fmt.Fprintf(out, "  dropped %s\n", table)
	}
	log.Info("admin: clickhouse reset", "database", database, "tables", len(tables))

	fmt.Fprintf(out, "\nSuccessfully dropped %d table(s)\n", len(tables))
	return nil
}
