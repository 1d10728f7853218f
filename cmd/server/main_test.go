package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/rpggio/civicsync/internal/changefeed"
	"github.com/rpggio/civicsync/internal/config"
	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/rpggio/civicsync/internal/identity"
	"github.com/rpggio/civicsync/internal/obs"
	"github.com/rpggio/civicsync/internal/persistence"
)

func TestParseLogLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	require.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	require.Equal(t, slog.LevelError, parseLogLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLogLevel("loud"))
}

func TestEnsureDBDir(t *testing.T) {
	require.NoError(t, ensureDBDir(":memory:"))

	path := filepath.Join(t.TempDir(), "nested", "data", "civicsync.db")
	require.NoError(t, ensureDBDir(path))

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestLogFileWriter_TruncatesToTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "civicsync.log")
	w, file, err := newLogFileWriter(path)
	require.NoError(t, err)
	defer file.Close()

	chunk := []byte(strings.Repeat("x", 1024*1024))
	for range 7 {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.LessOrEqual(t, info.Size(), int64(maxLogSizeBytes))
}

func TestOpenTables_SQLite(t *testing.T) {
	cfg := config.Default()
	cfg.DB.Path = filepath.Join(t.TempDir(), "db", "civicsync.db")

	tables, err := openTables(context.Background(), cfg)
	require.NoError(t, err)
	defer tables.close()

	created, err := tables.reports.Insert(context.Background(), report.NewRow{
		Title:       "Overflowing bin",
		Description: "Bin on the corner of 5th has not been emptied.",
		Category:    report.CategorySanitation,
		Status:      report.StatusPending,
		Priority:    report.PriorityMedium,
		ReporterID:  "u-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
}

func TestOpenDesk_RegistersStaffUser(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := config.Default()
	cfg.DB.Path = ":memory:"
	cfg.Auth.StaffUserID = "staff-1"

	tables, err := openTables(ctx, cfg)
	require.NoError(t, err)
	defer tables.close()

	feed := changefeed.New(cfg.Sync.FeedBuffer, nil)
	defer feed.Close()
	backend := persistence.NewService(tables.reports, feed, nil)

	directory, err := identity.NewDirectory(tables.users, cfg.Users.CacheSize, nil)
	require.NoError(t, err)

	metrics := obs.NewMetrics(prometheus.NewRegistry())
	desk, err := openDesk(ctx, cfg, backend, directory, metrics, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer desk.Close()

	require.Equal(t, "staff-1", desk.User().ID)

	saved, err := tables.users.Get(ctx, "staff-1")
	require.NoError(t, err)
	require.Equal(t, user.TypeEmployee, saved.Type)
	require.Equal(t, "Triage Desk", saved.FullName)
}

func TestOpenDesk_RejectsCitizen(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.DB.Path = ":memory:"
	cfg.Auth.StaffUserID = "u-9"

	tables, err := openTables(ctx, cfg)
	require.NoError(t, err)
	defer tables.close()

	directory, err := identity.NewDirectory(tables.users, cfg.Users.CacheSize, nil)
	require.NoError(t, err)
	require.NoError(t, directory.Save(ctx, &user.User{ID: "u-9", Type: user.TypeCitizen, FullName: "Dana"}))

	feed := changefeed.New(cfg.Sync.FeedBuffer, nil)
	defer feed.Close()
	backend := persistence.NewService(tables.reports, feed, nil)

	_, err = openDesk(ctx, cfg, backend, directory, nil, slog.New(slog.DiscardHandler))
	require.ErrorContains(t, err, "not an employee")
}
