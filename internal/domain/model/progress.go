package model

import "time"

type ProgressStage string

const (
	StageQueued     ProgressStage = "queued"
	StageAnalyzing  ProgressStage = "analyzing"
	StageGenerating ProgressStage = "generating"
	StageComplete   ProgressStage = "complete"
	StageError      ProgressStage = "error"
)

// Percent is the fixed progress value published for each stage.
func (s ProgressStage) Percent() int {
	switch s {
	case StageQueued:
		return 5
	case StageAnalyzing:
		return 10
	case StageGenerating:
		return 70
	case StageComplete:
		return 100
	default:
		return 0
	}
}

// Terminal reports whether no event follows s within a run.
func (s ProgressStage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// ProgressEvent is ephemeral; it is never persisted.
type ProgressEvent struct {
	SubjectID       string        `json:"subject_id"`
	TaskID          string        `json:"task_id"`
	Stage           ProgressStage `json:"stage"`
	ProgressPercent int           `json:"progress_percent"`
	Message         string        `json:"message,omitempty"`
	At              time.Time     `json:"at"`
}

func NewProgressEvent(subjectID, taskID string, stage ProgressStage, msg string) ProgressEvent {
	return ProgressEvent{
		SubjectID:       subjectID,
		TaskID:          taskID,
		Stage:           stage,
		ProgressPercent: stage.Percent(),
		Message:         msg,
		At:              time.Now().UTC(),
	}
}
