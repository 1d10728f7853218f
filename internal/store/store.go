// Package store holds the session's snapshot of reports and issues writes
// against the persistence collaborator.
package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/rpggio/civicsync/internal/obs"
)

// DefaultWriteTimeout bounds a single insert or update.
const DefaultWriteTimeout = 15 * time.Second

// Phase tags an in-flight write.
type Phase string

const (
	// PhasePendingConfirmation marks a write the collaborator has not
	// confirmed yet.
	PhasePendingConfirmation Phase = "pending_confirmation"
)

// WriteKind says what an in-flight write does.
type WriteKind string

const (
	WriteCreate WriteKind = "create"
	WriteUpdate WriteKind = "update"
)

// PendingWrite is a placeholder for an unconfirmed write. For updates,
// Report is the row as it will look once confirmed.
type PendingWrite struct {
	LocalID   string
	Kind      WriteKind
	Phase     Phase
	Report    report.Report
	StartedAt time.Time
}

// Options configures a Store.
type Options struct {
	// WriteTimeout bounds each write. Zero uses DefaultWriteTimeout,
	// negative disables the bound.
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *obs.Metrics
	Now          func() time.Time
}

// Store is the confirmed snapshot of reports visible to one session.
// Mutations are serialised by mu; collaborator calls happen outside it.
type Store struct {
	collab       report.Collaborator
	viewer       user.User
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *obs.Metrics
	now          func() time.Time

	mu         sync.RWMutex
	rows       map[string]report.Report
	tombstones map[string]int64
	pending    map[string]PendingWrite
	loaded     bool

	updates chan struct{}
}

// New creates a store for viewer.
func New(collab report.Collaborator, viewer user.User, opts Options) *Store {
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		collab:       collab,
		viewer:       viewer,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger.With("viewer", viewer.ID),
		metrics:      opts.Metrics,
		now:          opts.Now,
		rows:         make(map[string]report.Report),
		tombstones:   make(map[string]int64),
		pending:      make(map[string]PendingWrite),
		updates:      make(chan struct{}, 1),
	}
}

// Viewer returns the user the store was opened for.
func (s *Store) Viewer() user.User {
	return s.viewer
}

// Updates signals after the snapshot or the pending set changes. Signals
// coalesce; readers should re-read the whole view.
func (s *Store) Updates() <-chan struct{} {
	return s.updates
}

func (s *Store) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Load replaces the snapshot with the collaborator's current rows. On
// failure the previous snapshot is kept and a *report.FetchError returned.
func (s *Store) Load(ctx context.Context) error {
	q := report.Query{}
	if !s.viewer.IsEmployee() {
		q.ReporterID = s.viewer.ID
	}

	rows, err := s.collab.Select(ctx, q)
	s.metrics.Reload(err)
	if err != nil {
		s.logger.Warn("snapshot load failed", "error", err)
		return &report.FetchError{Err: err}
	}

	fresh := make(map[string]report.Report, len(rows))
	for _, r := range rows {
		if !s.visible(r) {
			continue
		}
		if cur, ok := fresh[r.ID]; ok && cur.Version > r.Version {
			continue
		}
		fresh[r.ID] = r
	}

	s.mu.Lock()
	s.rows = fresh
	s.tombstones = make(map[string]int64)
	s.loaded = true
	s.mu.Unlock()

	s.logger.Debug("snapshot loaded", "rows", len(fresh))
	s.notify()
	return nil
}

// Loaded reports whether a load has succeeded at least once.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Create validates draft and inserts it. The draft is visible through
// Pending until the collaborator confirms it; then the confirmed row
// replaces the placeholder in one step.
func (s *Store) Create(ctx context.Context, draft report.Draft) (*report.Report, error) {
	if s.viewer.ID == "" {
		return nil, user.ErrNoUser
	}

	draft = report.NormalizeDraft(draft)
	if err := report.ValidateDraft(draft); err != nil {
		return nil, err
	}
	row := report.NewRowFromDraft(draft, s.viewer.ID)

	now := s.now().UTC()
	localID := "local-" + uuid.NewString()
	s.addPending(PendingWrite{
		LocalID:   localID,
		Kind:      WriteCreate,
		Phase:     PhasePendingConfirmation,
		StartedAt: now,
		Report: report.Report{
			ID:               localID,
			Title:            row.Title,
			Description:      row.Description,
			Category:         row.Category,
			Status:           row.Status,
			Priority:         row.Priority,
			ReporterID:       row.ReporterID,
			LocationAddress:  row.LocationAddress,
			LocationLat:      row.LocationLat,
			LocationLng:      row.LocationLng,
			OriginalImageRef: row.OriginalImageRef,
			AudioRef:         row.AudioRef,
			AIAnalysis:       row.AIAnalysis,
			CreatedAt:        now,
			UpdatedAt:        now,
		},
	})

	wctx, cancel := s.withWriteTimeout(ctx)
	defer cancel()
	created, err := s.collab.Insert(wctx, row)
	s.metrics.WriteDone(string(WriteCreate), err)

	s.mu.Lock()
	delete(s.pending, localID)
	if err != nil {
		s.mu.Unlock()
		s.notify()
		s.logger.Warn("report create failed", "error", err)
		return nil, &report.WriteError{Op: string(WriteCreate), Err: err}
	}
	s.upsertLocked(*created)
	confirmed, ok := s.rows[created.ID]
	s.mu.Unlock()
	s.notify()

	if !ok {
		confirmed = *created
	}
	s.logger.Info("report created", "report_id", confirmed.ID)
	return &confirmed, nil
}

// UpdateStatus moves report id to status to. Only employees may do this.
// The whole transition is written in one update; on failure the snapshot
// is left as it was.
func (s *Store) UpdateStatus(ctx context.Context, id string, to report.Status, extra report.Extra) (*report.Report, error) {
	if !s.viewer.IsEmployee() {
		return nil, report.ErrForbidden
	}

	s.mu.RLock()
	current, ok := s.rows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, report.ErrNotFound
	}

	now := s.now()
	patch, err := report.PlanTransition(current, to, extra, s.viewer.ID, now)
	if err != nil {
		return nil, err
	}

	localID := "local-" + uuid.NewString()
	s.addPending(PendingWrite{
		LocalID:   localID,
		Kind:      WriteUpdate,
		Phase:     PhasePendingConfirmation,
		StartedAt: now.UTC(),
		Report:    patch.Apply(current, now.UTC()),
	})

	wctx, cancel := s.withWriteTimeout(ctx)
	defer cancel()
	updated, err := s.collab.Update(wctx, id, patch)
	s.metrics.WriteDone(string(WriteUpdate), err)

	s.mu.Lock()
	delete(s.pending, localID)
	if err != nil {
		s.mu.Unlock()
		s.notify()
		s.logger.Warn("report status update failed", "report_id", id, "to", to, "error", err)
		return nil, &report.WriteError{Op: string(WriteUpdate), ID: id, Err: err}
	}
	s.upsertLocked(*updated)
	confirmed, ok := s.rows[id]
	s.mu.Unlock()
	s.notify()

	if !ok {
		confirmed = *updated
	}
	s.logger.Info("report status changed", "report_id", id, "from", current.Status, "to", confirmed.Status)
	return &confirmed, nil
}

// Apply reconciles one change event into the snapshot and reports whether
// the snapshot changed. Rows older than the stored version are ignored, and
// a deleted id stays deleted unless a newer version arrives.
func (s *Store) Apply(evt report.ChangeEvent) bool {
	var changed bool

	switch evt.Op {
	case report.OpInsert, report.OpUpdate:
		if evt.Row == nil || !s.visible(*evt.Row) {
			break
		}
		s.mu.Lock()
		changed = s.upsertLocked(*evt.Row)
		s.mu.Unlock()
	case report.OpDelete:
		key := evt.Key
		if key == "" && evt.Row != nil {
			key = evt.Row.ID
		}
		s.mu.Lock()
		if cur, ok := s.rows[key]; ok {
			delete(s.rows, key)
			s.tombstones[key] = cur.Version
			changed = true
		}
		s.mu.Unlock()
	default:
		s.logger.Warn("ignoring change event with unknown operation", "op", evt.Op, "event_id", evt.ID)
	}

	s.metrics.EventReconciled(string(evt.Op), changed)
	if changed {
		s.notify()
	}
	return changed
}

func (s *Store) upsertLocked(r report.Report) bool {
	if v, dead := s.tombstones[r.ID]; dead {
		if r.Version <= v {
			return false
		}
		delete(s.tombstones, r.ID)
	}
	if cur, ok := s.rows[r.ID]; ok && r.Version < cur.Version {
		s.logger.Debug("ignoring stale row", "report_id", r.ID, "version", r.Version, "have", cur.Version)
		return false
	}
	if err := report.CheckInvariants(r); err != nil {
		s.logger.Warn("confirmed row breaks lifecycle invariants", "report_id", r.ID, "error", err)
	}
	s.rows[r.ID] = r
	return true
}

// visible applies the role gate: citizens only hold their own reports.
func (s *Store) visible(r report.Report) bool {
	return s.viewer.IsEmployee() || r.ReporterID == s.viewer.ID
}

// Get returns the confirmed row for id.
func (s *Store) Get(id string) (report.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	return r, ok
}

// List returns confirmed rows matching keep (all when nil), newest first.
func (s *Store) List(keep func(report.Report) bool) []report.Report {
	s.mu.RLock()
	out := make([]report.Report, 0, len(s.rows))
	for _, r := range s.rows {
		if keep == nil || keep(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	SortNewestFirst(out)
	return out
}

// Len returns the number of confirmed rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Pending returns in-flight writes, oldest first.
func (s *Store) Pending() []PendingWrite {
	s.mu.RLock()
	out := make([]PendingWrite, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].LocalID < out[j].LocalID
	})
	return out
}

// SortNewestFirst orders rows by created_at descending, id breaking ties.
func SortNewestFirst(rows []report.Report) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID > rows[j].ID
	})
}

func (s *Store) addPending(p PendingWrite) {
	s.mu.Lock()
	s.pending[p.LocalID] = p
	s.mu.Unlock()
	s.notify()
}

func (s *Store) withWriteTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.writeTimeout < 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.writeTimeout)
}
