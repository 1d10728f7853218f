package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rpggio/civicsync/internal/changefeed"
	"github.com/rpggio/civicsync/internal/config"
	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/rpggio/civicsync/internal/evidence"
	"github.com/rpggio/civicsync/internal/identity"
	"github.com/rpggio/civicsync/internal/mcp"
	"github.com/rpggio/civicsync/internal/obs"
	"github.com/rpggio/civicsync/internal/persistence"
	"github.com/rpggio/civicsync/internal/postgres"
	"github.com/rpggio/civicsync/internal/reconciler"
	"github.com/rpggio/civicsync/internal/session"
	"github.com/rpggio/civicsync/internal/sqlite"
	"github.com/rpggio/civicsync/internal/store"
	"github.com/rpggio/civicsync/internal/transport"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Use stderr for logs in stdio mode to keep stdout clean for JSON-RPC.
	logWriter := io.Writer(os.Stdout)
	if cfg.Transport.Mode == "stdio" {
		logWriter = os.Stderr
	}
	if cfg.Log.Path != "" {
		fileWriter, file, err := newLogFileWriter(cfg.Log.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tables, err := openTables(ctx, cfg)
	if err != nil {
		return err
	}
	defer tables.close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(registry)

	feed := changefeed.New(cfg.Sync.FeedBuffer, logger)
	defer feed.Close()
	backend := persistence.NewService(tables.reports, feed, logger)

	directory, err := identity.NewDirectory(tables.users, cfg.Users.CacheSize, logger)
	if err != nil {
		return fmt.Errorf("creating user directory: %w", err)
	}

	var verifier *identity.Verifier
	if cfg.Auth.Secret != "" {
		verifier, err = identity.NewVerifier([]byte(cfg.Auth.Secret), cfg.Auth.Issuer)
		if err != nil {
			return err
		}
	}

	var mcpServer *sdkmcp.Server
	if cfg.Auth.StaffUserID != "" {
		desk, err := openDesk(ctx, cfg, backend, directory, metrics, logger)
		if err != nil {
			return err
		}
		defer desk.Close()

		mcpCfg := mcp.Config{
			Desk:          desk,
			TransportMode: cfg.Transport.Mode,
			Version:       version,
			Logger:        logger,
		}
		if verifier != nil {
			mcpCfg.Verifier = verifier
			mcpCfg.Resolver = directory
		}
		mcpServer = mcp.NewServer(mcpCfg)
	}

	if cfg.Transport.Mode == "stdio" {
		return runStdioMode(ctx, logger, mcpServer)
	}

	if verifier == nil {
		return errors.New("http mode needs an auth secret")
	}
	evidenceStore, closeEvidence, err := openEvidence(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeEvidence()

	opts := transport.Options{
		Auth:             transport.AuthMiddleware(verifier, directory, logger),
		Evidence:         evidenceStore,
		Profiles:         directory,
		Metrics:          metrics,
		MetricsHandler:   obs.HandlerFor(registry),
		CreatesPerSecond: cfg.Limits.CreatesPerSecond,
		CreateBurst:      cfg.Limits.CreateBurst,
		Logger:           logger,
	}
	if mcpServer != nil {
		opts.MCP = sdkmcp.NewStreamableHTTPHandler(
			func(r *http.Request) *sdkmcp.Server { return mcpServer },
			&sdkmcp.StreamableHTTPOptions{
				Stateless:      false,
				SessionTimeout: 30 * time.Minute,
			},
		)
	}
	router := transport.NewServer(backend, opts)

	return runHTTPMode(ctx, logger, router, cfg.Server.Host, cfg.Server.Port)
}

type tables struct {
	reports report.Table
	users   user.Repository
	close   func()
}

func openTables(ctx context.Context, cfg config.Config) (*tables, error) {
	switch cfg.DB.Driver {
	case "postgres":
		db, err := postgres.Open(cfg.DB.DSN)
		if err != nil {
			return nil, err
		}
		reports := postgres.NewReportTable(db)
		users := postgres.NewUserRepository(db, cfg.Users.PhoneRegion)
		if err := errors.Join(reports.Migrate(ctx), users.Migrate(ctx)); err != nil {
			db.Close()
			return nil, err
		}
		return &tables{reports: reports, users: users, close: closer(db)}, nil

	default:
		if err := ensureDBDir(cfg.DB.Path); err != nil {
			return nil, fmt.Errorf("failed to prepare database path: %w", err)
		}
		db, err := sqlite.New(cfg.DB.Path)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, err
		}
		return &tables{
			reports: sqlite.NewReportTable(db),
			users:   sqlite.NewUserRepository(db, cfg.Users.PhoneRegion),
			close:   func() { db.Close() },
		}, nil
	}
}

func closer(db *sql.DB) func() {
	return func() { db.Close() }
}

// openDesk opens the in-process staff session the triage tools work on.
func openDesk(ctx context.Context, cfg config.Config, backend report.Collaborator, directory *identity.Directory, metrics *obs.Metrics, logger *slog.Logger) (*session.Session, error) {
	staff, err := directory.Lookup(ctx, cfg.Auth.StaffUserID)
	if errors.Is(err, user.ErrUserNotFound) {
		staff = &user.User{ID: cfg.Auth.StaffUserID, Type: user.TypeEmployee, FullName: cfg.Auth.StaffName}
		if err := directory.Save(ctx, staff); err != nil {
			return nil, fmt.Errorf("registering staff user: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("looking up staff user: %w", err)
	}
	if !staff.IsEmployee() {
		return nil, fmt.Errorf("staff user %s is not an employee", staff.ID)
	}

	return session.Open(ctx, identity.NewStatic(staff), backend, session.Options{
		Store: store.Options{
			WriteTimeout: cfg.Sync.WriteTimeout,
			Metrics:      metrics,
		},
		Reconciler: reconciler.Options{
			InitialBackoff: cfg.Sync.InitialBackoff,
			MaxBackoff:     cfg.Sync.MaxBackoff,
			MaxAttempts:    cfg.Sync.MaxAttempts,
			Metrics:        metrics,
		},
		Logger: logger.With("component", "desk"),
	})
}

func openEvidence(ctx context.Context, cfg config.Config, logger *slog.Logger) (evidence.Store, func(), error) {
	opts := evidence.Options{MaxBytes: cfg.Evidence.MaxBytes, Logger: logger}

	if cfg.Evidence.Backend == "gcs" {
		var creds []byte
		if cfg.Evidence.CredentialsFile != "" {
			data, err := os.ReadFile(cfg.Evidence.CredentialsFile)
			if err != nil {
				return nil, nil, fmt.Errorf("reading gcs credentials: %w", err)
			}
			creds = data
		}
		gcs, err := evidence.NewGCSStore(ctx, cfg.Evidence.Bucket, string(creds))
		if err != nil {
			return nil, nil, err
		}
		return evidence.NewService(gcs, opts), func() { gcs.Close() }, nil
	}

	fs, err := evidence.NewFSStore(cfg.Evidence.Dir)
	if err != nil {
		return nil, nil, err
	}
	return evidence.NewService(fs, opts), func() {}, nil
}

func runStdioMode(ctx context.Context, logger *slog.Logger, mcpServer *sdkmcp.Server) error {
	if mcpServer == nil {
		return errors.New("stdio mode needs a staff user for the triage desk")
	}
	logger.Info("starting stdio transport", "auth", "disabled")

	// Run blocks until stdin closes or context is canceled
	if err := mcpServer.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}
	logger.Info("shutting down")
	return nil
}

func runHTTPMode(ctx context.Context, logger *slog.Logger, handler http.Handler, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return waitForShutdown(logger, httpServer)
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func waitForShutdown(logger *slog.Logger, server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down")
	// Change streams never finish on their own; Shutdown does not wait
	// for hijacked or streaming connections past the deadline.
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown deadline passed, closing connections", "error", err)
		return server.Close()
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const (
	maxLogSizeBytes  = 6 * 1024 * 1024
	keepLogSizeBytes = 5 * 1024 * 1024
)

type logFileWriter struct {
	path string
	file *os.File
	mu   sync.Mutex
}

func newLogFileWriter(path string) (*logFileWriter, *os.File, error) {
	if err := ensureLogDir(path); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	writer := &logFileWriter{path: path, file: file}
	if err := writer.truncateIfNeeded(); err != nil {
		return nil, nil, err
	}
	return writer, file, nil
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (w *logFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	if err != nil {
		return n, err
	}
	if err := w.truncateIfNeeded(); err != nil {
		return n, err
	}
	return n, nil
}

func (w *logFileWriter) truncateIfNeeded() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= maxLogSizeBytes {
		return nil
	}
	if size <= keepLogSizeBytes {
		return nil
	}

	buf := make([]byte, keepLogSizeBytes)
	if _, err := w.file.Seek(size-keepLogSizeBytes, io.SeekStart); err != nil {
		return err
	}
	n, err := w.file.Read(buf)
	if err != nil && err != io.EOF {
		return err
	}
	buf = buf[:n]

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(buf); err != nil {
		return err
	}
	_, err = w.file.Seek(0, io.SeekEnd)
	return err
}
