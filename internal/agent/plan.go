package agent

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/adapter"
	"ai-analysis-pipeline/internal/infra/metrics"
	"ai-analysis-pipeline/internal/structured"
)

const (
	// LibraryConfidence is reported for plans built from the static library.
	LibraryConfidence = 0.4

	defaultPlanConfidence = 0.8
	maxPlanExercises      = 8
	maxExerciseMinutes    = 120
	notesMaxRunes         = 500
)

// PlanInput is the stage 2 request: the persisted report id plus the stage 1
// findings the plan is keyed on.
type PlanInput struct {
	TaskID      string
	ReportID    string
	Summary     string
	Errors      []model.AnalysisError
	PlayerLevel string
	FocusNotes  string
}

type planResponse struct {
	Confidence *float64 `json:"confidence"`
	Notes      *string  `json:"notes"`
	Exercises  []struct {
		Title       string   `json:"title"`
		Description *string  `json:"description"`
		Category    *string  `json:"category"`
		DurationMin *float64 `json:"duration_min"`
		Repetitions *float64 `json:"repetitions"`
		Difficulty  *string  `json:"difficulty"`
	} `json:"exercises"`
}

// PlanAgent wraps the training plan capability and falls back to the static
// exercise library when no backend is configured or its output is unusable.
type PlanAgent struct {
	backend      adapter.AIServiceAdapter
	model        string
	promptTokens int
	log          *zerolog.Logger
}

// NewPlanAgent caps prompts at promptTokens when positive, on top of the
// model's own window.
func NewPlanAgent(backend adapter.AIServiceAdapter, modelName string, promptTokens int, logger *zerolog.Logger) *PlanAgent {
	compLog := logger.With().Str("component", "PlanAgent").Logger()
	return &PlanAgent{backend: backend, model: modelName, promptTokens: promptTokens, log: &compLog}
}

func (a *PlanAgent) ID() string { return PlanAgentID }

func (a *PlanAgent) Process(ctx context.Context, in PlanInput) model.Result {
	start := time.Now()
	res := a.process(ctx, in)
	res.TaskID = in.TaskID
	res.AgentID = PlanAgentID
	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	metrics.ObserveStage(PlanAgentID, string(res.Status), time.Since(start))
	return res
}

func (a *PlanAgent) process(ctx context.Context, in PlanInput) model.Result {
	if a.backend == nil {
		return libraryPlan(in, "")
	}

	raw, _, err := a.backend.ChatWithUsage(ctx, a.model, a.fitPrompt(ctx, in))
	if err != nil {
		a.log.Error().Err(err).Str("task_id", in.TaskID).Str("report_id", in.ReportID).Msg("plan backend call failed")
		msg := "training plan generation failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "training plan generation timed out"
		}
		return model.Failed(in.TaskID, PlanAgentID, model.ErrKindProcessingError, msg)
	}

	var resp planResponse
	if err := planDecoder.Decode(raw, &resp); err != nil {
		a.log.Warn().Err(err).Str("task_id", in.TaskID).Msg("plan output unparsable, using exercise library")
		return degradedPlan(in, raw)
	}

	exercises := normalizeExercises(in.ReportID, resp)
	if len(exercises) == 0 {
		a.log.Warn().Str("task_id", in.TaskID).Msg("plan output had no exercises, using exercise library")
		return degradedPlan(in, raw)
	}

	conf := defaultPlanConfidence
	if resp.Confidence != nil {
		conf = model.ClampConfidence(*resp.Confidence)
	}
	out := &model.PlanOutput{ReportID: in.ReportID, Exercises: exercises}
	if resp.Notes != nil {
		out.Notes = structured.Truncate(*resp.Notes, notesMaxRunes)
	}
	return model.Result{Status: model.ResultSuccess, Confidence: conf, Data: out}
}

// promptBudget is the smaller of the configured cap and what the model window
// leaves after its output allowance. Zero means no limit is known.
func (a *PlanAgent) promptBudget() int {
	budget := a.promptTokens
	info, err := a.backend.GetModelInfo(a.model)
	if err == nil && info.MaxTokens > 0 {
		window := info.MaxTokens - info.MaxOutputTokens
		if window > 0 && (budget <= 0 || window < budget) {
			budget = window
		}
	}
	return budget
}

// fitPrompt drops the least severe observed errors until the prompt fits the
// budget. When tokens cannot be counted the prompt goes out unchanged.
func (a *PlanAgent) fitPrompt(ctx context.Context, in PlanInput) []adapter.Message {
	msgs := planMessages(in)
	budget := a.promptBudget()
	if budget <= 0 {
		return msgs
	}
	n, err := a.backend.CountTokens(ctx, a.model, msgs)
	if err != nil {
		a.log.Debug().Err(err).Str("task_id", in.TaskID).Msg("token count failed, prompt not budgeted")
		return msgs
	}
	if n <= budget {
		return msgs
	}

	errs := make([]model.AnalysisError, len(in.Errors))
	copy(errs, in.Errors)
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Severity.Weight() > errs[j].Severity.Weight() })

	trimmed := in
	for len(errs) > 0 && n > budget {
		keep := len(errs) * budget / n
		if keep >= len(errs) {
			keep = len(errs) - 1
		}
		errs = errs[:keep]
		trimmed.Errors = errs
		msgs = planMessages(trimmed)
		if n, err = a.backend.CountTokens(ctx, a.model, msgs); err != nil {
			break
		}
	}
	a.log.Warn().
		Str("task_id", in.TaskID).
		Int("tokens", n).
		Int("budget", budget).
		Int("errors_kept", len(errs)).
		Int("errors_total", len(in.Errors)).
		Msg("plan prompt trimmed to fit the model")
	return msgs
}

func libraryPlan(in PlanInput, notes string) model.Result {
	return model.Result{
		Status:     model.ResultSuccess,
		Confidence: LibraryConfidence,
		Data: &model.PlanOutput{
			ReportID:  in.ReportID,
			Exercises: LibraryExercises(in.ReportID, in.Errors),
			Notes:     notes,
		},
	}
}

func degradedPlan(in PlanInput, raw string) model.Result {
	res := libraryPlan(in, structured.Truncate(raw, notesMaxRunes))
	res.Confidence = math.Min(res.Confidence, DegradedConfidenceCap)
	res.ParseDegraded = true
	res.Error = &model.ResultError{Kind: model.ErrKindParseDegraded, Message: "plan output could not be parsed"}
	return res
}

func normalizeExercises(reportID string, resp planResponse) []model.Exercise {
	out := make([]model.Exercise, 0, len(resp.Exercises))
	for _, e := range resp.Exercises {
		title := strings.TrimSpace(e.Title)
		if title == "" {
			continue
		}
		ex := model.Exercise{
			ReportID:    reportID,
			Title:       title,
			Category:    model.CategoryGeneral,
			DurationMin: boundedInt(e.DurationMin, 0, maxExerciseMinutes),
			Repetitions: boundedInt(e.Repetitions, 0, maxCount),
			Difficulty:  "medium",
			Priority:    len(out) + 1,
			Source:      model.ExerciseSourceAI,
		}
		if e.Description != nil {
			ex.Description = strings.TrimSpace(*e.Description)
		}
		if e.Category != nil {
			ex.Category = model.ParseCategory(strings.ToLower(strings.TrimSpace(*e.Category)))
		}
		if e.Difficulty != nil {
			switch d := strings.ToLower(strings.TrimSpace(*e.Difficulty)); d {
			case "easy", "medium", "hard":
				ex.Difficulty = d
			}
		}
		out = append(out, ex)
		if len(out) == maxPlanExercises {
			break
		}
	}
	return out
}

// boundedInt compares in float64 before converting, so values beyond the
// int range clamp instead of wrapping.
func boundedInt(v *float64, lo, hi int) int {
	if v == nil || math.IsNaN(*v) {
		return lo
	}
	n := math.Round(*v)
	if n < float64(lo) {
		return lo
	}
	if n > float64(hi) {
		return hi
	}
	return int(n)
}
