package links

import (
	"context"
	"time"
)

// Store persists link records. Every operation is a single-record
// read-modify-write; there is no cross-record locking.
type Store interface {
	Create(ctx context.Context, link Link) error
	Get(ctx context.Context, id string) (Link, error)
	// Update overwrites url, project, name, status and updated_at.
	Update(ctx context.Context, link Link) error
	// UpdateMetadata writes project, name and updated_at only, leaving url,
	// status and last_checked to concurrent probes.
	UpdateMetadata(ctx context.Context, link Link) error
	// RecordOutcome writes a probe result. Returns ErrNotFound if the row is gone.
	RecordOutcome(ctx context.Context, id string, outcome Outcome) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int64, error)
	List(ctx context.Context, filter ListFilter) ([]Link, error)
	CountByStatus(ctx context.Context) (Counts, error)
	// ListStalePending returns PENDING links last updated before the cutoff, oldest first.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]Link, error)
	Ping(ctx context.Context) error
	Close() error
}

// Handler processes one task delivered by a Channel. A non-nil error means
// the task was not processed and may be redelivered.
type Handler func(ctx context.Context, task Task) error

// Channel decouples task producers from validation workers.
type Channel interface {
	Publish(ctx context.Context, task Task) error
	// Subscribe blocks, invoking handler for each delivered task until ctx
	// is done or the channel is closed.
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

// Prober issues a reachability check and reports the HTTP status code.
type Prober interface {
	Probe(ctx context.Context, url string) (int, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates unique link identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
