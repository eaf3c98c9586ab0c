package model

import "time"

type SubjectStatus string

const (
	SubjectIdle       SubjectStatus = "idle"
	SubjectProcessing SubjectStatus = "processing"
	SubjectComplete   SubjectStatus = "complete"
	SubjectFailed     SubjectStatus = "failed"
)

// Subject is the entity a run processes, typically an uploaded video.
type Subject struct {
	ID        string
	AccountID string
	Status    SubjectStatus
	UpdatedAt time.Time
}

// CanTransition encodes idle -> processing -> {complete | failed}. A terminal
// subject only re-enters processing through a new task.
func (s SubjectStatus) CanTransition(to SubjectStatus) bool {
	switch to {
	case SubjectProcessing:
		return s != SubjectProcessing
	case SubjectComplete, SubjectFailed:
		return s == SubjectProcessing
	default:
		return false
	}
}
