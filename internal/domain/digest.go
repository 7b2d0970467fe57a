package domain

import (
	"fmt"
	"time"
)

const runDateLayout = "2006-01-02"

// RunDate is the calendar day a run belongs to, formatted YYYY-MM-DD.
type RunDate string

// RunDateOf takes the calendar day of t in its own location.
func RunDateOf(t time.Time) RunDate {
	return RunDate(t.Format(runDateLayout))
}

// ParseRunDate validates a YYYY-MM-DD string.
func ParseRunDate(value string) (RunDate, error) {
	if _, err := time.Parse(runDateLayout, value); err != nil {
		return "", fmt.Errorf("invalid run date %q: %w", value, err)
	}
	return RunDate(value), nil
}

// Start returns midnight of the run date in loc.
func (d RunDate) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(runDateLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (d RunDate) String() string { return string(d) }

// DeliveryStatus tracks a digest through delivery.
type DeliveryStatus string

const (
	DigestPending DeliveryStatus = "pending"
	DigestSent    DeliveryStatus = "sent"
	DigestFailed  DeliveryStatus = "failed"
)

// Failed -> Sent and Failed -> Failed only happen through an explicit redelivery.
var digestTransitions = map[DeliveryStatus][]DeliveryStatus{
	DigestPending: {DigestSent, DigestFailed},
	DigestFailed:  {DigestSent, DigestFailed},
	DigestSent:    nil,
}

// CanTransition reports whether the digest status may move to next.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	for _, allowed := range digestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Digest is the single daily document assembled from curated items.
type Digest struct {
	RunDate     RunDate
	Items       []string
	GeneratedAt time.Time
	Status      DeliveryStatus
	Attempts    int
	LastError   string
	SentAt      time.Time
	UpdatedAt   time.Time
}

// DigestEntry is one item as the delivery channel sees it.
type DigestEntry struct {
	Title       string
	Summary     string
	Source      string
	URL         string
	PublishedAt time.Time
}

// DigestMessage is handed to a delivery adapter.
type DigestMessage struct {
	RunDate    RunDate
	Recipients []string
	Entries    []DigestEntry
}
