package model

import "time"

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Weight orders severities, high first.
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity normalizes free text; anything unknown is medium.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(s)
	default:
		return SeverityMedium
	}
}

// ErrorCategory is the fixed set of technique areas.
type ErrorCategory string

const (
	CategoryServe       ErrorCategory = "serve"
	CategoryReturn      ErrorCategory = "return"
	CategoryForehand    ErrorCategory = "forehand"
	CategoryBackhand    ErrorCategory = "backhand"
	CategoryVolley      ErrorCategory = "volley"
	CategorySmash       ErrorCategory = "smash"
	CategoryFootwork    ErrorCategory = "footwork"
	CategoryPositioning ErrorCategory = "positioning"
	CategoryTactics     ErrorCategory = "tactics"
	CategoryGeneral     ErrorCategory = "general"
)

// Categories lists every category; order is the tie-break order used by the
// exercise library.
var Categories = []ErrorCategory{
	CategoryServe, CategoryReturn, CategoryForehand, CategoryBackhand, CategoryVolley,
	CategorySmash, CategoryFootwork, CategoryPositioning, CategoryTactics, CategoryGeneral,
}

// ParseCategory maps unknown values to general.
func ParseCategory(s string) ErrorCategory {
	for _, c := range Categories {
		if string(c) == s {
			return c
		}
	}
	return CategoryGeneral
}

// AnalysisReport is the persisted artifact of the vision stage.
type AnalysisReport struct {
	ID           string    `json:"id"`
	SubjectID    string    `json:"subject_id"`
	AccountID    string    `json:"account_id"`
	OverallScore *int      `json:"overall_score"`
	Summary      string    `json:"summary"`
	RallyCount   int       `json:"rally_count"`
	PointsWon    *int      `json:"points_won"`
	PointsLost   *int      `json:"points_lost"`
	ErrorCount   int       `json:"error_count"`
	Model        string    `json:"model,omitempty"`
	AnalysisMs   int64     `json:"analysis_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

type AnalysisError struct {
	ID           string        `json:"id"`
	ReportID     string        `json:"report_id"`
	Category     ErrorCategory `json:"category"`
	Severity     Severity      `json:"severity"`
	Description  string        `json:"description"`
	TimestampSec *float64      `json:"timestamp_sec,omitempty"`
}

type ExerciseSource string

const (
	ExerciseSourceAI      ExerciseSource = "ai"
	ExerciseSourceLibrary ExerciseSource = "library"
)

type Exercise struct {
	ID          string         `json:"id"`
	ReportID    string         `json:"report_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Category    ErrorCategory  `json:"category"`
	DurationMin int            `json:"duration_min"`
	Repetitions int            `json:"repetitions"`
	Difficulty  string         `json:"difficulty"`
	Priority    int            `json:"priority"`
	Source      ExerciseSource `json:"source"`
}

type SubjectStat struct {
	ID       string  `json:"id"`
	ReportID string  `json:"report_id"`
	Metric   string  `json:"metric"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit,omitempty"`
}

// AnalysisBundle is a report with all of its child rows.
type AnalysisBundle struct {
	Report    AnalysisReport  `json:"report"`
	Errors    []AnalysisError `json:"errors"`
	Exercises []Exercise      `json:"exercises"`
	Stats     []SubjectStat   `json:"stats"`
}
