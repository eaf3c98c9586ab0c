//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"ai-analysis-pipeline/internal/domain"
)

// --- Tier Table Tests ---

func TestTierTable(t *testing.T) {
	tt := DefaultTierTable()

	t.Run("should report pro as minimum tier for video analysis", func(t *testing.T) {
		tier, ok := tt.MinimumTier(CapabilityVideoAnalysis)
		if !ok {
			t.Fatal("expected a tier enabling video analysis")
		}
		if tier != TierPro {
			t.Errorf("expected minimum tier pro, got %s", tier)
		}
	})

	t.Run("should report starter as minimum tier for training plans", func(t *testing.T) {
		tier, _ := tt.MinimumTier(CapabilityTrainingPlan)
		if tier != TierStarter {
			t.Errorf("expected minimum tier starter, got %s", tier)
		}
	})

	t.Run("should return disabled entitlement for unknown tier", func(t *testing.T) {
		if got := tt.Entitlement(Tier("gold"), CapabilityVideoAnalysis).Limit(); got != DisabledQuota {
			t.Errorf("expected disabled quota, got %d", got)
		}
	})

	t.Run("should find next tier with more quota", func(t *testing.T) {
		tier, ok := tt.NextTierWithMoreQuota(TierPro, CapabilityVideoAnalysis, 5)
		if !ok || tier != TierClub {
			t.Errorf("expected club, got %q (ok=%v)", tier, ok)
		}
		if _, ok := tt.NextTierWithMoreQuota(TierClub, CapabilityVideoAnalysis, UnlimitedQuota); ok {
			t.Error("expected no tier above club")
		}
	})
}

// --- Quota Rule Tests ---

func TestAllows(t *testing.T) {
	testCases := []struct {
		name  string
		used  int
		limit int
		want  bool
	}{
		{"unlimited", 1000, UnlimitedQuota, true},
		{"disabled", 0, DisabledQuota, false},
		{"below limit", 4, 5, true},
		{"at limit", 5, 5, false},
		{"above limit", 6, 5, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Allows(tc.used, tc.limit); got != tc.want {
				t.Errorf("Allows(%d, %d) = %v, want %v", tc.used, tc.limit, got, tc.want)
			}
		})
	}
}

func TestPeriodEnd(t *testing.T) {
	got := PeriodEnd(time.Date(2026, time.December, 15, 10, 0, 0, 0, time.UTC))
	want := time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

// --- Task Validation Tests ---

func TestTaskValidate(t *testing.T) {
	base := func() Task {
		return Task{
			ID:        "task-1",
			Type:      TaskTypeAnalyze,
			SubjectID: "video-1",
			AccountID: "acct-1",
			Tier:      TierPro,
			Payload:   AnalyzePayload{VideoURL: "https://cdn.example.com/v.mp4"},
		}
	}

	t.Run("should accept a well formed analyze task", func(t *testing.T) {
		task := base()
		if err := task.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("should reject unknown task type", func(t *testing.T) {
		task := base()
		task.Type = "transcode"
		if err := task.Validate(); !errors.Is(err, domain.ErrUnknownTaskType) {
			t.Errorf("expected ErrUnknownTaskType, got %v", err)
		}
	})

	t.Run("should reject malformed tasks", func(t *testing.T) {
		testCases := []struct {
			name   string
			mutate func(*Task)
		}{
			{"missing subject", func(tk *Task) { tk.SubjectID = "" }},
			{"missing account", func(tk *Task) { tk.AccountID = "  " }},
			{"unknown tier", func(tk *Task) { tk.Tier = "gold" }},
			{"nil payload", func(tk *Task) { tk.Payload = nil }},
			{"missing video", func(tk *Task) { tk.Payload = AnalyzePayload{} }},
			{"plan payload on analyze", func(tk *Task) { tk.Payload = GeneratePlanPayload{ReportID: "r"} }},
			{"analyze payload on generate-plan", func(tk *Task) { tk.Type = TaskTypeGeneratePlan }},
			{"missing report id", func(tk *Task) {
				tk.Type = TaskTypeGeneratePlan
				tk.Payload = GeneratePlanPayload{}
			}},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				task := base()
				tc.mutate(&task)
				if err := task.Validate(); !errors.Is(err, domain.ErrInvalidArgument) {
					t.Errorf("expected ErrInvalidArgument, got %v", err)
				}
			})
		}
	})

	t.Run("should map task types to capabilities", func(t *testing.T) {
		if TaskTypeAssess.Capability() != CapabilityVideoAnalysis {
			t.Error("expected assess to consume video analysis")
		}
		if TaskTypeGeneratePlan.Capability() != CapabilityTrainingPlan {
			t.Error("expected generate-plan to consume training plans")
		}
	})
}

// --- Normalization Tests ---

func TestParseHelpers(t *testing.T) {
	t.Run("should default unknown severity to medium", func(t *testing.T) {
		if ParseSeverity("catastrophic") != SeverityMedium {
			t.Error("expected medium")
		}
		if ParseSeverity("high") != SeverityHigh {
			t.Error("expected high")
		}
	})

	t.Run("should default unknown category to general", func(t *testing.T) {
		if ParseCategory("dropshot") != CategoryGeneral {
			t.Error("expected general")
		}
		if ParseCategory("volley") != CategoryVolley {
			t.Error("expected volley")
		}
	})

	t.Run("should clamp confidence", func(t *testing.T) {
		if ClampConfidence(1.7) != 1 || ClampConfidence(-0.2) != 0 || ClampConfidence(0.4) != 0.4 {
			t.Error("unexpected clamp result")
		}
	})
}

func TestSubjectStatusTransitions(t *testing.T) {
	if !SubjectIdle.CanTransition(SubjectProcessing) {
		t.Error("idle should move to processing")
	}
	if SubjectProcessing.CanTransition(SubjectProcessing) {
		t.Error("processing should not re-enter processing")
	}
	if SubjectIdle.CanTransition(SubjectComplete) {
		t.Error("idle should not jump to complete")
	}
	if !SubjectComplete.CanTransition(SubjectProcessing) {
		t.Error("a new task may reprocess a completed subject")
	}
}
