package domain

import "time"

// RawItem is the record a source scanner produces before anything is stored.
type RawItem struct {
	Source      string
	Title       string
	URL         string
	CanonicalID string
	Text        string
	PublishedAt time.Time
}

// Item is a stored article or video tracked through the pipeline stages.
type Item struct {
	Fingerprint string
	Source      string
	CanonicalID string
	Title       string
	URL         string
	Content     string
	PublishedAt time.Time
	Summary     string
	Score       float64
	Tags        []string
	Stage       Stage
	ErrorCount  int
	FailedRuns  int
	Retryable   bool
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewItem converts a raw record into a Scraped item with its fingerprint.
func NewItem(raw RawItem, now time.Time) Item {
	published := raw.PublishedAt
	if published.IsZero() {
		published = now
	}
	return Item{
		Fingerprint: Fingerprint(raw.Source, raw.CanonicalID, raw.URL, raw.Title),
		Source:      raw.Source,
		CanonicalID: raw.CanonicalID,
		Title:       raw.Title,
		URL:         raw.URL,
		Content:     raw.Text,
		PublishedAt: published.UTC(),
		Stage:       StageScraped,
		Retryable:   true,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
}

// SummaryInput returns the text handed to the summarizer.
func (i Item) SummaryInput() string {
	if i.Content != "" {
		return i.Content
	}
	return i.Title
}

// InsertResult reports the outcome of an idempotent insert.
type InsertResult int

const (
	Inserted InsertResult = iota + 1
	AlreadyExists
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// ItemUpdate carries the optional fields written together with a stage transition.
// Nil pointers and false flags leave the column untouched.
type ItemUpdate struct {
	Summary             *string
	Score               *float64
	Tags                []string
	LastError           *string
	Retryable           *bool
	IncrementErrors     bool
	ResetErrors         bool
	IncrementFailedRuns bool
}

// StringPtr is a small helper for building ItemUpdate values.
func StringPtr(v string) *string { return &v }

// FloatPtr is a small helper for building ItemUpdate values.
func FloatPtr(v float64) *float64 { return &v }

// BoolPtr is a small helper for building ItemUpdate values.
func BoolPtr(v bool) *bool { return &v }
