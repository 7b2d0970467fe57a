package ports

import (
	"context"
	"iter"
	"time"

	"NewsDigest/internal/domain"
)

// ItemSource pulls raw items from every configured site for a run.
type ItemSource interface {
	FetchDaily(ctx context.Context, day time.Time) ([]domain.RawItem, []error)
}

// ItemStore persists items keyed by fingerprint and tracks their stage.
type ItemStore interface {
	InsertIfNew(ctx context.Context, item domain.Item) (domain.InsertResult, error)
	Get(ctx context.Context, fingerprint string) (domain.Item, error)
	ListByStage(ctx context.Context, stage domain.Stage) iter.Seq2[domain.Item, error]
	UpdateStage(ctx context.Context, fingerprint string, from, to domain.Stage, update domain.ItemUpdate) error
	StageCounts(ctx context.Context) (map[domain.Stage]int, error)
}

// DigestStore persists one digest per run date.
type DigestStore interface {
	Create(ctx context.Context, digest domain.Digest) error
	Get(ctx context.Context, runDate domain.RunDate) (domain.Digest, error)
	UpdateStatus(ctx context.Context, runDate domain.RunDate, from, to domain.DeliveryStatus, lastError string) error
	IncludedFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error)
}

// Summarizer turns item text into a short summary. Errors are classified as
// domain.TransientAdapterError or domain.PermanentAdapterError.
type Summarizer interface {
	Summarize(ctx context.Context, title, text string) (string, error)
}

// Deliverer sends an assembled digest to its recipients.
type Deliverer interface {
	Deliver(ctx context.Context, message domain.DigestMessage) error
}

// Metrics records pipeline counters.
type Metrics interface {
	RecordIngest(result domain.InsertResult)
	RecordSummarizeAttempt(outcome string)
	RecordTransition(to domain.Stage)
	RecordDelivery(status domain.DeliveryStatus)
	RecordRun(state string, duration time.Duration)
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
