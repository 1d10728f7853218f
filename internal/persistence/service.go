// Package persistence implements the report persistence collaborator on top
// of a durable table and an in-process change feed.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rpggio/civicsync/internal/changefeed"
	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/repository"
)

// Deleter is implemented by tables that support administrative deletes.
type Deleter interface {
	Delete(ctx context.Context, id string) error
}

// Service is the persistence collaborator. Every committed write is
// published on the feed with the post-write row.
type Service struct {
	table  report.Table
	feed   *changefeed.Feed
	logger *slog.Logger
	now    func() time.Time
}

var _ report.Collaborator = (*Service)(nil)

// NewService creates a new persistence service.
func NewService(table report.Table, feed *changefeed.Feed, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		table:  table,
		feed:   feed,
		logger: logger,
		now:    time.Now,
	}
}

// Select returns the rows matching q.
func (s *Service) Select(ctx context.Context, q report.Query) ([]report.Report, error) {
	rows, err := s.table.Select(ctx, q)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return rows, nil
}

// Get returns one row.
func (s *Service) Get(ctx context.Context, id string) (*report.Report, error) {
	rep, err := s.table.Get(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return rep, nil
}

// Insert validates and stores a new row.
func (s *Service) Insert(ctx context.Context, row report.NewRow) (*report.Report, error) {
	if err := report.ValidateNewRow(row); err != nil {
		return nil, err
	}

	created, err := s.table.Insert(ctx, row)
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.publish(report.OpInsert, created)
	s.logger.Info("report created", "report_id", created.ID, "category", created.Category, "priority", created.Priority)
	return created, nil
}

// Update moves the stored row along one lifecycle edge. The client's patch
// only names the target status and the edge's inputs; the written patch is
// rebuilt from the stored row and made conditional on its status, so two
// staff racing on the same report cannot both win.
func (s *Service) Update(ctx context.Context, id string, patch report.Patch) (*report.Report, error) {
	if patch.Status == nil {
		return nil, &report.ValidationError{Fields: []string{"status"}}
	}

	current, err := s.table.Get(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}

	planned, err := report.Replan(*current, patch, s.now())
	if err != nil {
		return nil, err
	}
	if err := report.CheckInvariants(planned.Apply(*current, s.now())); err != nil {
		return nil, fmt.Errorf("%w: %v", report.ErrValidation, err)
	}
	expected := current.Status

	updated, err := s.table.Update(ctx, id, planned, expected)
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.publish(report.OpUpdate, updated)
	s.logger.Info("report updated", "report_id", updated.ID, "status", updated.Status, "version", updated.Version)
	return updated, nil
}

// Delete removes a row when the table supports it and publishes a delete.
func (s *Service) Delete(ctx context.Context, id string) error {
	deleter, ok := s.table.(Deleter)
	if !ok {
		return errors.New("report table does not support delete")
	}
	if err := deleter.Delete(ctx, id); err != nil {
		return mapRepoError(err)
	}
	s.feed.Publish(report.OpDelete, id, nil, s.now().UTC())
	s.logger.Info("report deleted", "report_id", id)
	return nil
}

// Subscribe opens a change stream.
func (s *Service) Subscribe(ctx context.Context) (report.Subscription, error) {
	return s.feed.Subscribe(ctx)
}

func (s *Service) publish(op report.Operation, row *report.Report) {
	copied := *row
	s.feed.Publish(op, row.ID, &copied, row.UpdatedAt)
}

func mapRepoError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return report.ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return report.ErrConflict
	case errors.Is(err, repository.ErrInvalidInput):
		return fmt.Errorf("%w: %v", report.ErrValidation, err)
	default:
		return err
	}
}
