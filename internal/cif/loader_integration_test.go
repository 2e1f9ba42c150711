//go:build integration

package cif

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nrod/ingest/internal/store"
)

// setupPostgresContainer mirrors the teacher's db/postgres_integration_test.go
// helper, trimmed to what the CIF loader's tests need, using the dedicated
// postgres module rather than a hand-rolled GenericContainer spec.
func setupPostgresContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return dsn, func() { _ = testcontainers.TerminateContainer(pgContainer) }
}

func writeCardFile(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.cif")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestLoadFileEndToEnd(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	log := logrus.NewEntry(logrus.New())
	db, err := store.Open(context.Background(), dsn, log.Logger)
	require.NoError(t, err)
	defer db.Close()

	header := buildCard(32, map[int]string{1: "HD", 22: "0306200200", 32: "F"})
	bs := buildCard(80, map[int]string{
		1: "BS", 2: "N", 3: "C12345", 9: "230603", 15: "999999",
		21: "1111100", 29: "P", 32: "1A23", 36: "1A23", 79: "P",
	})
	lo := buildCard(24, map[int]string{1: "LO", 3: "TONBDGE", 10: "1000 "})
	lt := buildCard(24, map[int]string{1: "LT", 3: "LONDON ", 10: "1100 "})
	zz := "ZZ"

	path := writeCardFile(t, []string{header, bs, lo, lt, zz})

	loader := NewLoader(db, log)
	counters, err := loader.LoadFile(context.Background(), path, false)
	require.NoError(t, err)
	require.Equal(t, 1, counters.SchedulesCreated)
	require.Equal(t, 2, counters.LocationsCreated)

	// Re-applying the identical file is rejected at the header check
	// (spec.md §4.C idempotent / monotone loading).
	_, err = loader.LoadFile(context.Background(), path, false)
	require.ErrorIs(t, err, ErrAlreadyLoaded)
}
