package archive

import (
	"context"
	"time"
)

// RecordSource lists the records to archive for one post field.
type RecordSource interface {
	ListRecords(ctx context.Context, field string) ([]Record, error)
}

// Fetcher resolves a target URL into an Outcome. It never returns an error:
// every failure is folded into the Outcome.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) Outcome
}

// ResultWriter persists one outcome per student id.
type ResultWriter interface {
	Persist(ctx context.Context, id string, outcome Outcome) error
}

// SummaryWriter appends rows to the batch summary and flushes each one.
type SummaryWriter interface {
	Append(row SummaryRow) error
}

// Mirror receives a copy of every archived record (blob storage, ledger).
type Mirror interface {
	Mirror(ctx context.Context, entry Entry) error
}

// Notifier is told once a batch has finished.
type Notifier interface {
	Notify(ctx context.Context, report Report) error
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch IDs.
type IDGenerator interface {
	NewID() (string, error)
}
