package clickhouse_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	clickhousetesting "github.com/ziswaf/revshare/revshare/pkg/clickhouse/testing"
)

var testDB *clickhousetesting.DB

func TestMain(m *testing.M) {
	ctx := context.Background()
	log := slog.Default()

	var err error
	testDB, err = clickhousetesting.NewDB(ctx, log, nil)
	if err != nil {
		slog.Error("failed to start ClickHouse container", "error", err)
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	os.Exit(code)
}
