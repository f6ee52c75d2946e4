package settings_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	revsharetesting "github.com/ziswaf/revshare/utils/pkg/testing"
)

var testDB *revsharetesting.PostgresDB

func TestMain(m *testing.M) {
	ctx := context.Background()
	log := slog.Default()

	var err error
	testDB, err = revsharetesting.NewPostgresDB(ctx, log, nil)
	if err != nil {
		slog.Error("failed to start PostgreSQL container", "error", err)
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	os.Exit(code)
}
