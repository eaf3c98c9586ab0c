// Package agent holds the two capability processors of the analysis
// pipeline. Processors never return errors: every outcome, including backend
// failure, is folded into a model.Result.
package agent

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-analysis-pipeline/internal/domain"
	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/adapter"
	"ai-analysis-pipeline/internal/infra/metrics"
	"ai-analysis-pipeline/internal/structured"
)

const (
	VisionAgentID = "vision-analysis"
	PlanAgentID   = "plan-generation"

	// SummaryMaxRunes bounds the summary built from unparsable output.
	SummaryMaxRunes = 500
	// DegradedConfidenceCap is the highest confidence a degraded result may report.
	DegradedConfidenceCap = 0.5

	defaultVisionConfidence = 0.7
	defaultMimeType         = "video/mp4"
)

// VisionInput is the stage 1 request.
type VisionInput struct {
	TaskID  string
	Payload model.AnalyzePayload
}

type visionResponse struct {
	OverallScore *float64 `json:"overall_score"`
	Summary      string   `json:"summary"`
	RallyCount   *float64 `json:"rally_count"`
	PointsWon    *float64 `json:"points_won"`
	PointsLost   *float64 `json:"points_lost"`
	Confidence   *float64 `json:"confidence"`
	Errors       []struct {
		Category     string   `json:"category"`
		Severity     *string  `json:"severity"`
		Description  string   `json:"description"`
		TimestampSec *float64 `json:"timestamp_sec"`
	} `json:"errors"`
	Stats []struct {
		Metric string  `json:"metric"`
		Value  float64 `json:"value"`
		Unit   *string `json:"unit"`
	} `json:"stats"`
}

// VisionAgent wraps the video analysis capability.
type VisionAgent struct {
	backend adapter.VisionAdapter
	locator adapter.VideoLocator
	model   string
	log     *zerolog.Logger
}

// NewVisionAgent accepts a nil backend; Process then reports
// capability_not_configured. locator may be nil when every task carries a URL.
func NewVisionAgent(backend adapter.VisionAdapter, locator adapter.VideoLocator, modelName string, logger *zerolog.Logger) *VisionAgent {
	compLog := logger.With().Str("component", "VisionAgent").Logger()
	return &VisionAgent{backend: backend, locator: locator, model: modelName, log: &compLog}
}

func (a *VisionAgent) ID() string { return VisionAgentID }

func (a *VisionAgent) Process(ctx context.Context, in VisionInput) model.Result {
	start := time.Now()
	res := a.process(ctx, in)
	res.TaskID = in.TaskID
	res.AgentID = VisionAgentID
	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	if out, ok := res.Data.(*model.VisionOutput); ok {
		out.Report.AnalysisMs = res.ProcessingTimeMs
	}
	metrics.ObserveStage(VisionAgentID, string(res.Status), time.Since(start))
	return res
}

func (a *VisionAgent) process(ctx context.Context, in VisionInput) model.Result {
	if a.backend == nil {
		return model.Failed(in.TaskID, VisionAgentID, model.ErrKindCapabilityNotConfigured, "video analysis backend is not configured")
	}

	uri := in.Payload.VideoURL
	if uri == "" {
		if a.locator == nil {
			return model.Failed(in.TaskID, VisionAgentID, model.ErrKindCapabilityNotConfigured, "video storage is not configured")
		}
		u, err := a.locator.Locate(ctx, in.Payload.StorageKey)
		if err != nil {
			a.log.Error().Err(err).Str("task_id", in.TaskID).Msg("failed to locate video")
			kind := model.ErrKindProcessingError
			if errors.Is(err, domain.ErrNotFound) {
				kind = model.ErrKindNotFound
			}
			return model.Failed(in.TaskID, VisionAgentID, kind, "video could not be located")
		}
		uri = u
	}
	mime := in.Payload.MimeType
	if mime == "" {
		mime = defaultMimeType
	}

	raw, _, err := a.backend.AnalyzeMedia(ctx, a.model, adapter.Media{URI: uri, MIMEType: mime}, visionMessages(in.Payload))
	if err != nil {
		a.log.Error().Err(err).Str("task_id", in.TaskID).Msg("vision backend call failed")
		msg := "video analysis failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "video analysis timed out"
		}
		return model.Failed(in.TaskID, VisionAgentID, model.ErrKindProcessingError, msg)
	}

	var resp visionResponse
	if err := visionDecoder.Decode(raw, &resp); err != nil {
		a.log.Warn().Err(err).Str("task_id", in.TaskID).Int("raw_len", len(raw)).Msg("vision output unparsable, degrading")
		return degradedVision(raw)
	}
	return normalizeVision(resp)
}

func normalizeVision(resp visionResponse) model.Result {
	report := model.AnalysisReport{
		OverallScore: clampScore(resp.OverallScore),
		Summary:      structured.Truncate(resp.Summary, 4*SummaryMaxRunes),
		RallyCount:   nonNegative(resp.RallyCount),
		PointsWon:    nonNegativePtr(resp.PointsWon),
		PointsLost:   nonNegativePtr(resp.PointsLost),
	}

	errs := make([]model.AnalysisError, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		desc := strings.TrimSpace(e.Description)
		if desc == "" {
			continue
		}
		sev := ""
		if e.Severity != nil {
			sev = strings.ToLower(strings.TrimSpace(*e.Severity))
		}
		var ts *float64
		if e.TimestampSec != nil && *e.TimestampSec >= 0 && !math.IsNaN(*e.TimestampSec) {
			v := *e.TimestampSec
			ts = &v
		}
		errs = append(errs, model.AnalysisError{
			Category:     model.ParseCategory(strings.ToLower(strings.TrimSpace(e.Category))),
			Severity:     model.ParseSeverity(sev),
			Description:  desc,
			TimestampSec: ts,
		})
	}
	report.ErrorCount = len(errs)

	stats := make([]model.SubjectStat, 0, len(resp.Stats))
	for _, s := range resp.Stats {
		if strings.TrimSpace(s.Metric) == "" || math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}
		st := model.SubjectStat{Metric: strings.TrimSpace(s.Metric), Value: s.Value}
		if s.Unit != nil {
			st.Unit = *s.Unit
		}
		stats = append(stats, st)
	}

	conf := defaultVisionConfidence
	if resp.Confidence != nil {
		conf = model.ClampConfidence(*resp.Confidence)
	}

	return model.Result{
		Status:     model.ResultSuccess,
		Confidence: conf,
		Data:       &model.VisionOutput{Report: report, Errors: errs, Stats: stats},
	}
}

// degradedVision builds a minimal report from raw text.
func degradedVision(raw string) model.Result {
	summary := structured.Truncate(raw, SummaryMaxRunes)
	conf := 0.3
	if summary == "" {
		summary = "The analysis service returned no readable output."
		conf = 0.1
	}
	return model.Result{
		Status:        model.ResultSuccess,
		Confidence:    math.Min(conf, DegradedConfidenceCap),
		ParseDegraded: true,
		Error:         &model.ResultError{Kind: model.ErrKindParseDegraded, Message: "analysis output could not be parsed"},
		Data: &model.VisionOutput{
			Report: model.AnalysisReport{Summary: summary},
			Errors: []model.AnalysisError{},
		},
	}
}

// maxCount matches the INT columns counts are stored in.
const maxCount = math.MaxInt32

func clampScore(v *float64) *int {
	if v == nil || math.IsNaN(*v) {
		return nil
	}
	s := boundedInt(v, 0, 100)
	return &s
}

func nonNegative(v *float64) int {
	return boundedInt(v, 0, maxCount)
}

func nonNegativePtr(v *float64) *int {
	if v == nil || math.IsNaN(*v) {
		return nil
	}
	n := boundedInt(v, 0, maxCount)
	return &n
}
