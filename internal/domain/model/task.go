package model

import (
	"fmt"
	"strings"
	"time"

	"ai-analysis-pipeline/internal/domain"
)

type TaskType string

const (
	TaskTypeAnalyze      TaskType = "analyze"
	TaskTypeGeneratePlan TaskType = "generate-plan"
	TaskTypeAssess       TaskType = "assess"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeAnalyze, TaskTypeGeneratePlan, TaskTypeAssess:
		return true
	default:
		return false
	}
}

// Capability returns the gated capability a task type consumes.
func (t TaskType) Capability() Capability {
	if t == TaskTypeGeneratePlan {
		return CapabilityTrainingPlan
	}
	return CapabilityVideoAnalysis
}

// TaskPayload is the stage-specific input of a task. Each task type accepts
// exactly one payload kind.
type TaskPayload interface {
	payloadKind() TaskType
}

// AnalyzePayload is the input of analyze and assess tasks.
type AnalyzePayload struct {
	VideoURL    string `json:"video_url,omitempty"`
	StorageKey  string `json:"storage_key,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	Sport       string `json:"sport,omitempty"`
	PlayerLevel string `json:"player_level,omitempty"`
	Notes       string `json:"notes,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

func (AnalyzePayload) payloadKind() TaskType { return TaskTypeAnalyze }

// GeneratePlanPayload asks for a training plan for an existing report.
type GeneratePlanPayload struct {
	ReportID    string `json:"report_id"`
	PlayerLevel string `json:"player_level,omitempty"`
	FocusNotes  string `json:"focus_notes,omitempty"`
}

func (GeneratePlanPayload) payloadKind() TaskType { return TaskTypeGeneratePlan }

// Task identifies one pipeline run. Immutable once submitted.
type Task struct {
	ID          string
	Type        TaskType
	SubjectID   string
	AccountID   string
	Tier        Tier
	Payload     TaskPayload
	Priority    int
	SubmittedAt time.Time
}

// Validate checks the task shape. An unknown type yields domain.ErrUnknownTaskType,
// every other defect domain.ErrInvalidArgument.
func (t *Task) Validate() error {
	if !t.Type.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownTaskType, t.Type)
	}
	if strings.TrimSpace(t.SubjectID) == "" || strings.TrimSpace(t.AccountID) == "" {
		return fmt.Errorf("%w: subject and account are required", domain.ErrInvalidArgument)
	}
	if !t.Tier.Valid() {
		return fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidArgument, t.Tier)
	}
	if t.Payload == nil {
		return fmt.Errorf("%w: payload is required", domain.ErrInvalidArgument)
	}

	switch p := t.Payload.(type) {
	case AnalyzePayload:
		if t.Type == TaskTypeGeneratePlan {
			return fmt.Errorf("%w: %s task needs a plan payload", domain.ErrInvalidArgument, t.Type)
		}
		if p.VideoURL == "" && p.StorageKey == "" {
			return fmt.Errorf("%w: video_url or storage_key is required", domain.ErrInvalidArgument)
		}
	case GeneratePlanPayload:
		if t.Type != TaskTypeGeneratePlan {
			return fmt.Errorf("%w: %s task needs an analyze payload", domain.ErrInvalidArgument, t.Type)
		}
		if p.ReportID == "" {
			return fmt.Errorf("%w: report_id is required", domain.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unsupported payload %T", domain.ErrInvalidArgument, t.Payload)
	}
	return nil
}
