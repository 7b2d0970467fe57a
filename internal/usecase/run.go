package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"NewsDigest/internal/domain"
)

// RunState is the orchestrator's position within one run.
type RunState string

const (
	RunScrape    RunState = "scrape"
	RunStore     RunState = "store"
	RunSummarize RunState = "summarize"
	RunCurate    RunState = "curate"
	RunAssemble  RunState = "assemble"
	RunDeliver   RunState = "deliver"
	RunComplete  RunState = "complete"
	RunFailed    RunState = "failed"
	// RunSkipped ends a run whose date already has a digest.
	RunSkipped RunState = "skipped"
)

var runTransitions = map[RunState][]RunState{
	RunScrape:    {RunStore, RunFailed},
	RunStore:     {RunSummarize, RunFailed},
	RunSummarize: {RunCurate, RunFailed},
	RunCurate:    {RunAssemble, RunFailed},
	RunAssemble:  {RunDeliver, RunSkipped, RunFailed},
	RunDeliver:   {RunComplete, RunFailed},
	RunComplete:  nil,
	RunFailed:    nil,
	RunSkipped:   nil,
}

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return len(runTransitions[s]) == 0
}

// Diagnostics accumulates counters for one run.
type Diagnostics struct {
	Fetched         int
	SourceErrors    []string
	Inserted        int
	Duplicates      int
	Requeued        int
	Summarized      int
	SummarizeFailed int
	Deferred        int
	Skipped         int
	Candidates      int
	Curated         int
	DigestItems     int
}

// RunContext is threaded through every stage of one run instead of process-wide state.
type RunContext struct {
	ID          string
	RunDate     domain.RunDate
	StartedAt   time.Time
	Reference   time.Time
	State       RunState
	Err         error
	Diagnostics Diagnostics
	Logger      *slog.Logger
}

// NewRunContext starts a run in the given state. Reference is the instant scanners and
// the curator measure age from: now for today's run, the end of the day for past dates.
func NewRunContext(runDate domain.RunDate, now time.Time, loc *time.Location, start RunState, logger *slog.Logger) *RunContext {
	id := uuid.NewString()
	reference := now
	if end := runDate.Start(loc).AddDate(0, 0, 1); end.Before(now) {
		reference = end
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunContext{
		ID:        id,
		RunDate:   runDate,
		StartedAt: now,
		Reference: reference,
		State:     start,
		Logger:    logger.With("run_id", id, "run_date", runDate.String()),
	}
}

// Advance moves the run to the next state, rejecting moves the table does not allow.
func (rc *RunContext) Advance(next RunState) error {
	for _, allowed := range runTransitions[rc.State] {
		if allowed == next {
			rc.Logger.Debug("run state", "from", rc.State, "to", next)
			rc.State = next
			return nil
		}
	}
	return &domain.IllegalTransitionError{Entity: "run", From: string(rc.State), To: string(next)}
}

// Fail records err and moves the run to Failed.
func (rc *RunContext) Fail(err error) error {
	rc.Err = err
	if rc.State.Terminal() {
		return err
	}
	rc.State = RunFailed
	return err
}

// RunReport is the outcome handed back to callers.
type RunReport struct {
	ID          string
	RunDate     domain.RunDate
	State       RunState
	Diagnostics Diagnostics
	Duration    time.Duration
	Digest      *domain.Digest
}

func (rc *RunContext) report(now time.Time, digest *domain.Digest) RunReport {
	return RunReport{
		ID:          rc.ID,
		RunDate:     rc.RunDate,
		State:       rc.State,
		Diagnostics: rc.Diagnostics,
		Duration:    now.Sub(rc.StartedAt),
		Digest:      digest,
	}
}

func (r RunReport) String() string {
	d := r.Diagnostics
	return fmt.Sprintf("run %s [%s] state=%s fetched=%d inserted=%d summarized=%d failed=%d curated=%d",
		r.RunDate, r.ID, r.State, d.Fetched, d.Inserted, d.Summarized, d.SummarizeFailed, d.Curated)
}
