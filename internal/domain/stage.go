package domain

// Stage is an item's position in the processing state machine.
type Stage string

const (
	StageScraped         Stage = "scraped"
	StageSummarized      Stage = "summarized"
	StageSummarizeFailed Stage = "summarize_failed"
	StageCurated         Stage = "curated"
	StageDelivered       Stage = "delivered"
)

// stageTransitions is the complete table of legal item moves.
// Scraped -> Scraped records a failed attempt without advancing.
// Curated -> Curated refreshes the score of an item left over by an interrupted run.
var stageTransitions = map[Stage][]Stage{
	StageScraped:         {StageScraped, StageSummarized, StageSummarizeFailed},
	StageSummarizeFailed: {StageScraped},
	StageSummarized:      {StageCurated},
	StageCurated:         {StageCurated, StageDelivered},
	StageDelivered:       nil,
}

// Stages lists every stage in pipeline order.
func Stages() []Stage {
	return []Stage{StageScraped, StageSummarized, StageSummarizeFailed, StageCurated, StageDelivered}
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageTransitions[s]
	return ok
}

// CanTransition reports whether the table allows s -> to.
func (s Stage) CanTransition(to Stage) bool {
	for _, next := range stageTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// AtLeastCurated is true for stages an item may hold while referenced by a digest.
func (s Stage) AtLeastCurated() bool {
	return s == StageCurated || s == StageDelivered
}

func (s Stage) String() string { return string(s) }

// ValidateTransition returns an *IllegalTransitionError when from -> to is not allowed.
func ValidateTransition(from, to Stage) error {
	if !from.Valid() || !to.Valid() || !from.CanTransition(to) {
		return &IllegalTransitionError{Entity: "item", From: string(from), To: string(to)}
	}
	return nil
}
