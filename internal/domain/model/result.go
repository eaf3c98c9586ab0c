package model

import "math"

type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultPartial ResultStatus = "partial"
	ResultFailed  ResultStatus = "failed"
)

// ErrorKind is the stable, machine-readable failure classifier of a Result.
type ErrorKind string

const (
	ErrKindUpgradeRequired         ErrorKind = "upgrade_required"
	ErrKindQuotaExceeded           ErrorKind = "quota_exceeded"
	ErrKindUnknownTaskType         ErrorKind = "unknown_task_type"
	ErrKindInvalidTask             ErrorKind = "invalid_task"
	ErrKindCapabilityNotConfigured ErrorKind = "capability_not_configured"
	ErrKindProcessingError         ErrorKind = "processing_error"
	ErrKindParseDegraded           ErrorKind = "parse_degraded"
	ErrKindNotFound                ErrorKind = "not_found"
	ErrKindAlreadyInProgress       ErrorKind = "already_in_progress"
	ErrKindCancelled               ErrorKind = "cancelled"
)

// ResultError carries the failure kind plus remediation data for tier and
// quota rejections.
type ResultError struct {
	Kind         ErrorKind `json:"kind"`
	Message      string    `json:"message"`
	RequiredTier Tier      `json:"required_tier,omitempty"`
	Used         *int      `json:"used,omitempty"`
	Limit        *int      `json:"limit,omitempty"`
}

func (e *ResultError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// ResultData is the stage-specific payload of a Result.
type ResultData interface {
	resultData()
}

// VisionOutput is what the vision stage produced.
type VisionOutput struct {
	Report AnalysisReport  `json:"report"`
	Errors []AnalysisError `json:"errors"`
	Stats  []SubjectStat   `json:"stats,omitempty"`
}

// PlanOutput is what the plan stage produced.
type PlanOutput struct {
	ReportID  string     `json:"report_id"`
	Exercises []Exercise `json:"exercises"`
	Notes     string     `json:"notes,omitempty"`
}

// PipelineOutput is the aggregate payload of a full run.
type PipelineOutput struct {
	ReportID  string          `json:"report_id"`
	Report    AnalysisReport  `json:"report"`
	Errors    []AnalysisError `json:"errors"`
	Exercises []Exercise      `json:"exercises,omitempty"`
	Stats     []SubjectStat   `json:"stats,omitempty"`
	Note      string          `json:"note,omitempty"`
}

func (*VisionOutput) resultData()   {}
func (*PlanOutput) resultData()     {}
func (*PipelineOutput) resultData() {}

// Result is the uniform envelope returned by processors and the orchestrator.
type Result struct {
	TaskID           string       `json:"task_id"`
	AgentID          string       `json:"agent_id"`
	Status           ResultStatus `json:"status"`
	Data             ResultData   `json:"data,omitempty"`
	Confidence       float64      `json:"confidence"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
	ParseDegraded    bool         `json:"parse_degraded,omitempty"`
	Error            *ResultError `json:"error,omitempty"`
	Children         []Result     `json:"children,omitempty"`
}

// Failed builds a failed Result without data.
func Failed(taskID, agentID string, kind ErrorKind, msg string) Result {
	return Result{
		TaskID:  taskID,
		AgentID: agentID,
		Status:  ResultFailed,
		Error:   &ResultError{Kind: kind, Message: msg},
	}
}

// Usable reports whether the result carries data a later stage can build on.
func (r Result) Usable() bool {
	return r.Status != ResultFailed && r.Data != nil
}

// ErrorKind returns the error kind or "" when there is none.
func (r Result) ErrorKind() ErrorKind {
	if r.Error == nil {
		return ""
	}
	return r.Error.Kind
}

// ClampConfidence bounds c to [0, 1].
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
