package mocks

import (
	"context"

	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/stretchr/testify/mock"
)

// Collaborator is a mock for report.Collaborator.
type Collaborator struct {
	mock.Mock
}

func (m *Collaborator) Select(ctx context.Context, q report.Query) ([]report.Report, error) {
	args := m.Called(ctx, q)
	if rows, ok := args.Get(0).([]report.Report); ok {
		return rows, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Collaborator) Insert(ctx context.Context, row report.NewRow) (*report.Report, error) {
	args := m.Called(ctx, row)
	if rep, ok := args.Get(0).(*report.Report); ok {
		return rep, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Collaborator) Update(ctx context.Context, id string, patch report.Patch) (*report.Report, error) {
	args := m.Called(ctx, id, patch)
	if rep, ok := args.Get(0).(*report.Report); ok {
		return rep, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Collaborator) Subscribe(ctx context.Context) (report.Subscription, error) {
	args := m.Called(ctx)
	if sub, ok := args.Get(0).(report.Subscription); ok {
		return sub, args.Error(1)
	}
	return nil, args.Error(1)
}

// Table is a mock for report.Table.
type Table struct {
	mock.Mock
}

func (m *Table) Get(ctx context.Context, id string) (*report.Report, error) {
	args := m.Called(ctx, id)
	if rep, ok := args.Get(0).(*report.Report); ok {
		return rep, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Table) Select(ctx context.Context, q report.Query) ([]report.Report, error) {
	args := m.Called(ctx, q)
	if rows, ok := args.Get(0).([]report.Report); ok {
		return rows, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Table) Insert(ctx context.Context, row report.NewRow) (*report.Report, error) {
	args := m.Called(ctx, row)
	if rep, ok := args.Get(0).(*report.Report); ok {
		return rep, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Table) Update(ctx context.Context, id string, patch report.Patch, expected report.Status) (*report.Report, error) {
	args := m.Called(ctx, id, patch, expected)
	if rep, ok := args.Get(0).(*report.Report); ok {
		return rep, args.Error(1)
	}
	return nil, args.Error(1)
}

// UserRepository is a mock for user.Repository.
type UserRepository struct {
	mock.Mock
}

func (m *UserRepository) Get(ctx context.Context, id string) (*user.User, error) {
	args := m.Called(ctx, id)
	if u, ok := args.Get(0).(*user.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *UserRepository) Upsert(ctx context.Context, u *user.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

// Subscription is a channel-backed report.Subscription for tests.
type Subscription struct {
	Ch     chan report.ChangeEvent
	Closed chan struct{}
	err    error
}

// NewSubscription creates a subscription with a buffered event channel.
func NewSubscription(buffer int) *Subscription {
	return &Subscription{
		Ch:     make(chan report.ChangeEvent, buffer),
		Closed: make(chan struct{}),
	}
}

func (s *Subscription) Events() <-chan report.ChangeEvent { return s.Ch }

func (s *Subscription) Err() error { return s.err }

// Drop ends the stream with err, as a network interruption would.
func (s *Subscription) Drop(err error) {
	s.err = err
	close(s.Ch)
}

func (s *Subscription) Close() {
	select {
	case <-s.Closed:
	default:
		close(s.Closed)
	}
}
