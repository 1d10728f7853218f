package report

import "context"

// Collaborator is the persistence contract consumed by the report core.
type Collaborator interface {
	Select(ctx context.Context, q Query) ([]Report, error)
	Insert(ctx context.Context, row NewRow) (*Report, error)
	Update(ctx context.Context, id string, patch Patch) (*Report, error)
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is a live change stream. Events is closed when the stream
// ends; Err then tells why. Close unsubscribes.
type Subscription interface {
	Events() <-chan ChangeEvent
	Err() error
	Close()
}

// Table is a durable report table behind the collaborator.
type Table interface {
	Get(ctx context.Context, id string) (*Report, error)
	Select(ctx context.Context, q Query) ([]Report, error)
	Insert(ctx context.Context, row NewRow) (*Report, error)
	// Update applies patch and returns the post-write row. A non-empty
	// expected status makes the write conditional on the stored status.
	Update(ctx context.Context, id string, patch Patch, expected Status) (*Report, error)
}
