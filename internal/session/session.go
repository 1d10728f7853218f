// Package session ties a signed-in user to a report store and its
// reconciler. Opening a session is login; closing it is logout.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/rpggio/civicsync/internal/projection"
	"github.com/rpggio/civicsync/internal/reconciler"
	"github.com/rpggio/civicsync/internal/store"
)

// DefaultReadyTimeout bounds how long Open waits for the first load.
const DefaultReadyTimeout = 10 * time.Second

// Options configures a session.
type Options struct {
	Store      store.Options
	Reconciler reconciler.Options
	// ReadyTimeout bounds the wait for the first snapshot. When it
	// expires Open still returns the session, which keeps retrying.
	ReadyTimeout time.Duration
	Logger       *slog.Logger
}

// Session is the explicit context for one signed-in user.
type Session struct {
	user   user.User
	store  *store.Store
	rec    *reconciler.Reconciler
	logger *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error
	closeOnce sync.Once
}

// Open resolves the current user, builds the store and starts reconciling.
// It returns once the first snapshot is loaded, the ready timeout passes, or
// reconciliation gives up.
func Open(ctx context.Context, identity user.Identity, collab report.Collaborator, opts Options) (*Session, error) {
	u, err := identity.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving session user: %w", err)
	}
	if u == nil || u.ID == "" {
		return nil, user.ErrNoUser
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Store.Logger == nil {
		opts.Store.Logger = logger
	}
	if opts.Reconciler.Logger == nil {
		opts.Reconciler.Logger = logger.With("viewer", u.ID)
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}

	st := store.New(collab, *u, opts.Store)
	rec := reconciler.New(collab, st, opts.Reconciler)

	// The session outlives the Open call; only Close stops it.
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		user:   *u,
		store:  st,
		rec:    rec,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		s.runErr = rec.Run(runCtx)
		if s.runErr != nil {
			logger.Error("session reconciliation stopped", "user_id", u.ID, "error", s.runErr)
		}
	}()

	timer := time.NewTimer(opts.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-rec.Ready():
		logger.Info("session opened", "user_id", u.ID, "user_type", u.Type)
		return s, nil
	case <-s.done:
		cancel()
		return nil, s.runErr
	case <-timer.C:
		logger.Warn("session opened before first snapshot loaded", "user_id", u.ID, "status", rec.Status())
		return s, nil
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

// Close stops reconciliation and waits for it to finish. It is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.logger.Info("session closed", "user_id", s.user.ID)
	})
}

// Done is closed when reconciliation stops.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why reconciliation stopped; nil after a clean Close.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.runErr
	default:
		return nil
	}
}

// User returns the signed-in user.
func (s *Session) User() user.User {
	return s.user
}

// Store exposes the session's report store.
func (s *Session) Store() *store.Store {
	return s.store
}

// Status returns the reconciler status for the UI.
func (s *Session) Status() reconciler.Status {
	return s.rec.Status()
}

// Get returns a report visible to the session user.
func (s *Session) Get(id string) (report.Report, bool) {
	r, ok := s.store.Get(id)
	if !ok || !projection.Visible(r, s.user) {
		return report.Report{}, false
	}
	return r, true
}

// Create submits a new report as the session user.
func (s *Session) Create(ctx context.Context, draft report.Draft) (*report.Report, error) {
	return s.store.Create(ctx, draft)
}

// UpdateStatus changes a report's status as the session user.
func (s *Session) UpdateStatus(ctx context.Context, id string, to report.Status, extra report.Extra) (*report.Report, error) {
	return s.store.UpdateStatus(ctx, id, to, extra)
}

// View is everything a list or map screen renders.
type View struct {
	Reports []report.Report      `json:"reports"`
	Pending []store.PendingWrite `json:"pending,omitempty"`
	Counts  projection.Counts    `json:"counts"`
	Markers []projection.Marker  `json:"markers"`
	Status  reconciler.Status    `json:"status"`
}

// View projects the snapshot for the session user. Counts cover all
// visible reports; the list and markers honour the filter.
func (s *Session) View(f projection.Filter) View {
	visible := projection.ForViewer(s.store.List(nil), s.user)
	filtered := f.Apply(visible)
	return View{
		Reports: filtered,
		Pending: s.store.Pending(),
		Counts:  projection.Count(visible),
		Markers: projection.Markers(filtered),
		Status:  s.rec.Status(),
	}
}
