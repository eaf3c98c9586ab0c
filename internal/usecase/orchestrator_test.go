//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-analysis-pipeline/internal/agent"
	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/usecase"
)

const (
	testAccount = "acct-1"
	testSubject = "video-1"
)

type harness struct {
	vision     *MockVision
	plan       *MockPlan
	usage      *memUsageRepo
	store      *MockStore
	subjects   *MockSubjects
	progress   *RecordingBroadcaster
	notifier   *MockNotifier
	orch       *usecase.Orchestrator
	visionConf float64
}

func visionSuccess(conf float64, errs ...model.AnalysisError) func(context.Context, agent.VisionInput) model.Result {
	return func(_ context.Context, in agent.VisionInput) model.Result {
		score := 72
		return model.Result{
			TaskID:     in.TaskID,
			AgentID:    agent.VisionAgentID,
			Status:     model.ResultSuccess,
			Confidence: conf,
			Data: &model.VisionOutput{
				Report: model.AnalysisReport{OverallScore: &score, Summary: "solid match", ErrorCount: len(errs)},
				Errors: errs,
			},
		}
	}
}

func planSuccess(_ context.Context, in agent.PlanInput) model.Result {
	return model.Result{
		TaskID:     in.TaskID,
		AgentID:    agent.PlanAgentID,
		Status:     model.ResultSuccess,
		Confidence: 0.95,
		Data: &model.PlanOutput{
			ReportID:  in.ReportID,
			Exercises: []model.Exercise{{Title: "Wall rally", Category: model.CategoryBackhand, Source: model.ExerciseSourceAI}},
		},
	}
}

func newHarness(t *testing.T, cfg usecase.OrchestratorConfig) *harness {
	t.Helper()
	h := &harness{
		vision:     &MockVision{},
		plan:       &MockPlan{ProcessFunc: planSuccess},
		usage:      newMemUsageRepo(),
		store:      NewMockStore(),
		subjects:   NewMockSubjects(testSubject),
		progress:   NewRecordingBroadcaster(),
		notifier:   NewMockNotifier(),
		visionConf: 0.82,
	}
	h.vision.ProcessFunc = visionSuccess(h.visionConf, model.AnalysisError{Category: model.CategoryServe, Severity: model.SeverityHigh, Description: "foot fault"})

	h.orch = h.build(cfg, usecase.NewUsageLedger(h.usage, model.DefaultTierTable(), newTestLogger()))
	return h
}

// build wires an orchestrator over the harness fakes with the given ledger.
func (h *harness) build(cfg usecase.OrchestratorConfig, ledger usecase.UsageLedgerUseCase) *usecase.Orchestrator {
	return usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Vision:     h.vision,
		Plan:       h.plan,
		Ledger:     ledger,
		Tiers:      model.DefaultTierTable(),
		Store:      h.store,
		Subjects:   h.subjects,
		Progress:   h.progress,
		Locker:     NewMemLocker(),
		Notifier:   h.notifier,
		Dispatcher: SyncDispatcher{},
		Composer:   usecase.NewNotificationComposer(MockTranslator{}),
	}, cfg, newTestLogger())
}

func analyzeTask(tier model.Tier) model.Task {
	return model.Task{
		Type:      model.TaskTypeAnalyze,
		SubjectID: testSubject,
		AccountID: testAccount,
		Tier:      tier,
		Payload:   model.AnalyzePayload{VideoURL: "https://cdn/v.mp4", PlayerLevel: "intermediate"},
	}
}

func assertNonDecreasingTo100(t *testing.T, events []model.ProgressEvent) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("expected progress events")
	}
	last := -1
	for _, ev := range events {
		if ev.ProgressPercent < last {
			t.Fatalf("progress decreased: %+v", events)
		}
		last = ev.ProgressPercent
	}
	if end := events[len(events)-1]; end.ProgressPercent != 100 || end.Stage != model.StageComplete {
		t.Errorf("expected final event complete/100, got %s/%d", end.Stage, end.ProgressPercent)
	}
}

func TestOrchestrator_TierGate(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject free analyze with upgrade_required to pro", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		res := h.orch.Submit(ctx, analyzeTask(model.TierFree))

		if res.Status != model.ResultFailed || res.ErrorKind() != model.ErrKindUpgradeRequired {
			t.Fatalf("expected upgrade_required, got %+v", res)
		}
		if res.Error.RequiredTier != model.TierPro {
			t.Errorf("expected required tier pro, got %s", res.Error.RequiredTier)
		}
	})

	t.Run("should never invoke processors or touch usage for disabled capabilities", func(t *testing.T) {
		tiers := model.DefaultTierTable()
		for _, tier := range model.Tiers {
			for _, taskType := range []model.TaskType{model.TaskTypeAnalyze, model.TaskTypeAssess, model.TaskTypeGeneratePlan} {
				if tiers.Entitlement(tier, taskType.Capability()).Limit() != model.DisabledQuota {
					continue
				}
				h := newHarness(t, usecase.OrchestratorConfig{})
				task := analyzeTask(tier)
				task.Type = taskType
				if taskType == model.TaskTypeGeneratePlan {
					task.Payload = model.GeneratePlanPayload{ReportID: "r-1"}
				}

				res := h.orch.Submit(ctx, task)

				if res.ErrorKind() != model.ErrKindUpgradeRequired {
					t.Errorf("%s/%s: expected upgrade_required, got %s", tier, taskType, res.ErrorKind())
				}
				if h.vision.Calls() != 0 || h.plan.Calls() != 0 {
					t.Errorf("%s/%s: expected no processor calls", tier, taskType)
				}
				if h.usage.reads != 0 || h.usage.Used(testAccount, taskType.Capability()) != 0 {
					t.Errorf("%s/%s: expected usage untouched", tier, taskType)
				}
				if len(h.progress.Events(testSubject)) != 0 || len(h.subjects.History(testSubject)) != 0 {
					t.Errorf("%s/%s: expected no side effects", tier, taskType)
				}
			}
		}
	})

	t.Run("should reject an exhausted quota with remediation data", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		h.usage.Set(testAccount, model.CapabilityVideoAnalysis, 5)

		res := h.orch.Submit(ctx, analyzeTask(model.TierPro))

		if res.ErrorKind() != model.ErrKindQuotaExceeded {
			t.Fatalf("expected quota_exceeded, got %+v", res)
		}
		if *res.Error.Used != 5 || *res.Error.Limit != 5 || res.Error.RequiredTier != model.TierClub {
			t.Errorf("unexpected remediation: used=%d limit=%d tier=%s", *res.Error.Used, *res.Error.Limit, res.Error.RequiredTier)
		}
		if h.vision.Calls() != 0 {
			t.Error("expected no processor calls")
		}
	})
}

func TestOrchestrator_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject unknown task types without side effects", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		task := analyzeTask(model.TierClub)
		task.Type = "transcode"

		res := h.orch.Submit(ctx, task)

		if res.ErrorKind() != model.ErrKindUnknownTaskType {
			t.Fatalf("expected unknown_task_type, got %s", res.ErrorKind())
		}
		if res.TaskID == "" {
			t.Error("expected a generated task id")
		}
		if h.vision.Calls() != 0 || len(h.subjects.History(testSubject)) != 0 || h.usage.reads != 0 {
			t.Error("expected no side effects")
		}
	})

	t.Run("should reject mismatched payloads as invalid_task", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		task := analyzeTask(model.TierClub)
		task.Payload = model.GeneratePlanPayload{ReportID: "r"}

		if res := h.orch.Submit(ctx, task); res.ErrorKind() != model.ErrKindInvalidTask {
			t.Fatalf("expected invalid_task, got %s", res.ErrorKind())
		}
	})

	t.Run("should not start a run for an already cancelled caller", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		res := h.orch.Submit(cctx, analyzeTask(model.TierClub))

		if res.ErrorKind() != model.ErrKindCancelled {
			t.Fatalf("expected cancelled, got %s", res.ErrorKind())
		}
		if h.vision.Calls() != 0 || len(h.subjects.History(testSubject)) != 0 {
			t.Error("expected nothing started")
		}
	})

	t.Run("should return not_found for a missing subject", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		task := analyzeTask(model.TierClub)
		task.SubjectID = "ghost"

		if res := h.orch.Submit(ctx, task); res.ErrorKind() != model.ErrKindNotFound {
			t.Fatalf("expected not_found, got %s", res.ErrorKind())
		}
		if h.vision.Calls() != 0 {
			t.Error("expected no processor calls")
		}
	})
}

func TestOrchestrator_FullRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should succeed for pro at 4 of 5 and consume exactly one unit", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		h.usage.Set(testAccount, model.CapabilityVideoAnalysis, 4)

		res := h.orch.Submit(ctx, analyzeTask(model.TierPro))

		if res.Status != model.ResultSuccess {
			t.Fatalf("expected success, got %+v", res)
		}
		if got := h.usage.Used(testAccount, model.CapabilityVideoAnalysis); got != 5 {
			t.Errorf("expected used=5, got %d", got)
		}
		if res.Confidence != h.visionConf {
			t.Errorf("expected stage 1 confidence %v, got %v", h.visionConf, res.Confidence)
		}
		if h.subjects.Status(testSubject) != model.SubjectComplete {
			t.Errorf("expected subject complete, got %s", h.subjects.Status(testSubject))
		}
		assertNonDecreasingTo100(t, h.progress.Events(testSubject))

		out, ok := res.Data.(*model.PipelineOutput)
		if !ok {
			t.Fatalf("expected pipeline output, got %T", res.Data)
		}
		if out.ReportID == "" || len(out.Exercises) != 1 || len(out.Errors) != 1 {
			t.Errorf("unexpected output: %+v", out)
		}
		if len(res.Children) != 2 {
			t.Errorf("expected 2 child results, got %d", len(res.Children))
		}

		select {
		case n := <-h.notifier.sent:
			if n.AccountID != testAccount || n.Type != model.NotificationAnalysisComplete || n.Data["report_id"] != out.ReportID {
				t.Errorf("unexpected notification: %+v", n)
			}
		default:
			t.Error("expected a completion notification")
		}
	})

	t.Run("should pass the persisted report id and stage 1 errors to stage 2", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		var got agent.PlanInput
		h.plan.ProcessFunc = func(ctx context.Context, in agent.PlanInput) model.Result {
			got = in
			return planSuccess(ctx, in)
		}

		res := h.orch.Submit(ctx, analyzeTask(model.TierClub))

		out := res.Data.(*model.PipelineOutput)
		if got.ReportID != out.ReportID || len(got.Errors) != 1 || got.PlayerLevel != "intermediate" {
			t.Errorf("unexpected plan input: %+v", got)
		}
		bundle, err := h.store.GetAnalysis(ctx, out.ReportID)
		if err != nil {
			t.Fatalf("expected stored report: %v", err)
		}
		if bundle.Report.AccountID != testAccount || bundle.Report.SubjectID != testSubject || len(bundle.Exercises) != 1 {
			t.Errorf("unexpected stored bundle: %+v", bundle)
		}
	})

	t.Run("should not notify when notification fails and still succeed", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		h.notifier.Err = errors.New("telegram down")

		res := h.orch.Submit(ctx, analyzeTask(model.TierClub))

		if res.Status != model.ResultSuccess {
			t.Fatalf("expected notification failure to be ignored, got %s", res.Status)
		}
	})
}

func TestOrchestrator_StageFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("should stop after stage 1 failure without consuming quota", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		h.vision.ProcessFunc = func(_ context.Context, in agent.VisionInput) model.Result {
			return model.Failed(in.TaskID, agent.VisionAgentID, model.ErrKindProcessingError, "backend unavailable")
		}

		res := h.orch.Submit(ctx, analyzeTask(model.TierClub))

		if res.Status != model.ResultFailed || res.AgentID != agent.VisionAgentID {
			t.Fatalf("expected the stage 1 result unchanged, got %+v", res)
		}
		if h.plan.Calls() != 0 {
			t.Error("expected stage 2 never invoked")
		}
		if h.usage.Used(testAccount, model.CapabilityVideoAnalysis) != 0 {
			t.Error("expected usage unchanged")
		}
		if h.subjects.Status(testSubject) != model.SubjectFailed {
			t.Errorf("expected subject failed, got %s", h.subjects.Status(testSubject))
		}
		events := h.progress.Events(testSubject)
		if last := events[len(events)-1]; last.Stage != model.StageError || last.ProgressPercent != 0 {
			t.Errorf("expected terminal error event, got %+v", last)
		}
		if h.store.Count() != 0 {
			t.Error("expected nothing persisted")
		}
	})

	t.Run("should return partial when stage 2 fails", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		h.plan.ProcessFunc = func(_ context.Context, in agent.PlanInput) model.Result {
			return model.Failed(in.TaskID, agent.PlanAgentID, model.ErrKindProcessingError, "503")
		}

		res := h.orch.Submit(ctx, analyzeTask(model.TierClub))

		if res.Status != model.ResultPartial {
			t.Fatalf("expected partial, got %s", res.Status)
		}
		out := res.Data.(*model.PipelineOutput)
		if out.ReportID == "" || out.Report.Summary != "solid match" || out.Note == "" {
			t.Errorf("expected stage 1 data and a note, got %+v", out)
		}
		if res.Confidence != h.visionConf {
			t.Errorf("expected stage 1 confidence kept, got %v", res.Confidence)
		}
		if h.subjects.Status(testSubject) != model.SubjectComplete {
			t.Errorf("expected subject complete, got %s", h.subjects.Status(testSubject))
		}
		if h.usage.Used(testAccount, model.CapabilityVideoAnalysis) != 1 {
			t.Error("expected usage to increment on partial")
		}
		assertNonDecreasingTo100(t, h.progress.Events(testSubject))
		n := <-h.notifier.sent
		if n.Type != model.NotificationAnalysisPartial {
			t.Errorf("expected partial notification, got %s", n.Type)
		}
	})

	t.Run("should return partial when the plan cannot be saved", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		h.store.PlanErr = errors.New("disk full")

		res := h.orch.Submit(ctx, analyzeTask(model.TierClub))

		if res.Status != model.ResultPartial {
			t.Fatalf("expected partial, got %s", res.Status)
		}
	})

	t.Run("should fail the run when the analysis cannot be saved", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		h.store.SaveErr = errors.New("connection reset")

		res := h.orch.Submit(ctx, analyzeTask(model.TierClub))

		if res.ErrorKind() != model.ErrKindProcessingError {
			t.Fatalf("expected processing_error, got %+v", res)
		}
		if h.plan.Calls() != 0 || h.usage.Used(testAccount, model.CapabilityVideoAnalysis) != 0 {
			t.Error("expected no stage 2 and no usage")
		}
		if h.subjects.Status(testSubject) != model.SubjectFailed {
			t.Error("expected subject failed")
		}
	})

	t.Run("should convert processor panics to processing_error", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		h.vision.ProcessFunc = func(context.Context, agent.VisionInput) model.Result { panic("nil map") }

		res := h.orch.Submit(ctx, analyzeTask(model.TierClub))

		if res.ErrorKind() != model.ErrKindProcessingError {
			t.Fatalf("expected processing_error, got %+v", res)
		}
		if h.subjects.Status(testSubject) != model.SubjectFailed {
			t.Errorf("expected subject failed, got %s", h.subjects.Status(testSubject))
		}
	})

	t.Run("should treat a stage timeout as failure", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{VisionTimeout: 20 * time.Millisecond})
		release := make(chan struct{})
		defer close(release)
		h.vision.ProcessFunc = func(context.Context, agent.VisionInput) model.Result {
			<-release // ignores ctx on purpose
			return model.Result{}
		}

		res := h.orch.Submit(ctx, analyzeTask(model.TierClub))

		if res.Status != model.ResultFailed || res.ErrorKind() != model.ErrKindProcessingError {
			t.Fatalf("expected timeout failure, got %+v", res)
		}
		if h.subjects.Status(testSubject) != model.SubjectFailed {
			t.Error("expected subject not to stay processing")
		}
	})
}

func TestOrchestrator_Exclusivity(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject a second submission for an in-flight subject", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		entered := make(chan struct{})
		release := make(chan struct{})
		inner := h.vision.ProcessFunc
		h.vision.ProcessFunc = func(ctx context.Context, in agent.VisionInput) model.Result {
			close(entered)
			<-release
			return inner(ctx, in)
		}

		var wg sync.WaitGroup
		var first model.Result
		wg.Add(1)
		go func() {
			defer wg.Done()
			first = h.orch.Submit(ctx, analyzeTask(model.TierClub))
		}()
		<-entered

		second := h.orch.Submit(ctx, analyzeTask(model.TierClub))
		close(release)
		wg.Wait()

		if second.ErrorKind() != model.ErrKindAlreadyInProgress {
			t.Fatalf("expected already_in_progress, got %+v", second)
		}
		if first.Status != model.ResultSuccess {
			t.Errorf("expected first run to succeed, got %s", first.Status)
		}
		if h.vision.Calls() != 1 {
			t.Errorf("expected a single pipeline, got %d vision calls", h.vision.Calls())
		}
		if h.usage.Used(testAccount, model.CapabilityVideoAnalysis) != 1 {
			t.Error("expected a single usage increment")
		}
	})

	t.Run("should allow resubmission after a terminal state", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		h.orch.Submit(ctx, analyzeTask(model.TierClub))
		res := h.orch.Submit(ctx, analyzeTask(model.TierClub))
		if res.Status != model.ResultSuccess {
			t.Fatalf("expected resubmission to run, got %+v", res)
		}
	})
}

func TestOrchestrator_StageOnlyTasks(t *testing.T) {
	ctx := context.Background()

	t.Run("should run only stage 1 for assess", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		task := analyzeTask(model.TierPro)
		task.Type = model.TaskTypeAssess

		res := h.orch.Submit(ctx, task)

		if res.Status != model.ResultSuccess || h.plan.Calls() != 0 {
			t.Fatalf("expected stage 1 only success, got %+v (plan calls %d)", res, h.plan.Calls())
		}
		if h.usage.Used(testAccount, model.CapabilityVideoAnalysis) != 1 {
			t.Error("expected video usage to increment")
		}
		assertNonDecreasingTo100(t, h.progress.Events(testSubject))
	})

	t.Run("should generate a plan for an existing report", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		report := &model.AnalysisReport{SubjectID: testSubject, AccountID: testAccount, Summary: "ok"}
		reportID, _ := h.store.SaveAnalysis(ctx, report, []model.AnalysisError{{Category: model.CategoryVolley}}, nil, nil)

		task := model.Task{
			Type:      model.TaskTypeGeneratePlan,
			SubjectID: testSubject,
			AccountID: testAccount,
			Tier:      model.TierStarter,
			Payload:   model.GeneratePlanPayload{ReportID: reportID},
		}
		res := h.orch.Submit(ctx, task)

		if res.Status != model.ResultSuccess {
			t.Fatalf("expected success, got %+v", res)
		}
		if h.vision.Calls() != 0 {
			t.Error("expected no vision call")
		}
		if h.usage.Used(testAccount, model.CapabilityTrainingPlan) != 1 {
			t.Error("expected training plan usage to increment")
		}
		if len(h.subjects.History(testSubject)) != 0 {
			t.Error("expected subject status untouched")
		}
		assertNonDecreasingTo100(t, h.progress.Events(testSubject))
	})

	t.Run("should return not_found for unknown or foreign reports", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		foreign := &model.AnalysisReport{AccountID: "someone-else"}
		foreignID, _ := h.store.SaveAnalysis(ctx, foreign, nil, nil, nil)

		for _, id := range []string{"missing", foreignID} {
			task := model.Task{
				Type: model.TaskTypeGeneratePlan, SubjectID: testSubject, AccountID: testAccount,
				Tier: model.TierClub, Payload: model.GeneratePlanPayload{ReportID: id},
			}
			if res := h.orch.Submit(ctx, task); res.ErrorKind() != model.ErrKindNotFound {
				t.Errorf("expected not_found for %q, got %s", id, res.ErrorKind())
			}
		}
		if h.plan.Calls() != 0 {
			t.Error("expected no plan calls")
		}
	})
}

func TestOrchestrator_LibraryFallback(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	run := func(t *testing.T, errs ...model.AnalysisError) *model.PipelineOutput {
		t.Helper()
		h := newHarness(t, usecase.OrchestratorConfig{})
		planAgent := agent.NewPlanAgent(nil, "", 0, logger)
		h.plan.ProcessFunc = planAgent.Process
		h.vision.ProcessFunc = visionSuccess(0.7, errs...)

		res := h.orch.Submit(ctx, analyzeTask(model.TierClub))
		if res.Status != model.ResultSuccess {
			t.Fatalf("expected success, got %+v", res)
		}
		return res.Data.(*model.PipelineOutput)
	}

	t.Run("should build library exercises keyed by stage 1 categories", func(t *testing.T) {
		out := run(t,
			model.AnalysisError{Category: model.CategoryFootwork, Severity: model.SeverityHigh, Description: "slow split step"},
		)
		if len(out.Exercises) < 2 {
			t.Fatalf("expected warm-up plus footwork drills, got %d", len(out.Exercises))
		}
		if out.Exercises[1].Category != model.CategoryFootwork {
			t.Errorf("expected footwork drills, got %s", out.Exercises[1].Category)
		}
		for _, ex := range out.Exercises {
			if ex.Source != model.ExerciseSourceLibrary {
				t.Errorf("expected library source, got %s", ex.Source)
			}
		}
	})

	t.Run("should still yield a warm-up without stage 1 errors", func(t *testing.T) {
		out := run(t)
		if len(out.Exercises) != 1 || out.Exercises[0].Category != model.CategoryGeneral {
			t.Fatalf("expected a single general warm-up, got %+v", out.Exercises)
		}
	})
}

func TestOrchestrator_Ownership(t *testing.T) {
	ctx := context.Background()

	t.Run("should refuse to analyze another account's subject", func(t *testing.T) {
		for _, taskType := range []model.TaskType{model.TaskTypeAnalyze, model.TaskTypeAssess} {
			h := newHarness(t, usecase.OrchestratorConfig{})
			h.subjects.SetOwner(testSubject, "acct-B")
			task := analyzeTask(model.TierClub)
			task.Type = taskType

			res := h.orch.Submit(ctx, task)

			if res.ErrorKind() != model.ErrKindNotFound {
				t.Fatalf("%s: expected not_found, got %+v", taskType, res)
			}
			if h.vision.Calls() != 0 || len(h.subjects.History(testSubject)) != 0 {
				t.Errorf("%s: expected the foreign subject untouched", taskType)
			}
			if h.subjects.Status(testSubject) != model.SubjectIdle || h.store.Count() != 0 {
				t.Errorf("%s: expected no status change or report", taskType)
			}
			if h.usage.Used(testAccount, taskType.Capability()) != 0 {
				t.Errorf("%s: expected no usage", taskType)
			}
		}
	})

	t.Run("should run on the caller's own subject", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		h.subjects.SetOwner(testSubject, testAccount)

		if res := h.orch.Submit(ctx, analyzeTask(model.TierClub)); res.Status != model.ResultSuccess {
			t.Fatalf("expected success, got %+v", res)
		}
	})
}

func TestOrchestrator_QuotaReservation(t *testing.T) {
	ctx := context.Background()

	t.Run("should refuse when a concurrent run took the last unit", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		h.usage.Set(testAccount, model.CapabilityVideoAnalysis, 5)
		ledger := usecase.NewUsageLedger(h.usage, model.DefaultTierTable(), newTestLogger())
		orch := h.build(usecase.OrchestratorConfig{}, StaleCheckLedger{UsageLedgerUseCase: ledger})

		res := orch.Submit(ctx, analyzeTask(model.TierPro))

		if res.ErrorKind() != model.ErrKindQuotaExceeded {
			t.Fatalf("expected quota_exceeded, got %+v", res)
		}
		if res.Error.Used == nil || *res.Error.Used != 5 || res.Error.Limit == nil || *res.Error.Limit != 5 {
			t.Errorf("expected used/limit 5/5, got %+v", res.Error)
		}
		if h.vision.Calls() != 0 || len(h.subjects.History(testSubject)) != 0 {
			t.Error("expected nothing started")
		}
		if got := h.usage.Used(testAccount, model.CapabilityVideoAnalysis); got != 5 {
			t.Errorf("expected usage to stay at 5, got %d", got)
		}
	})

	t.Run("should never exceed the limit across concurrent subjects", func(t *testing.T) {
		const subjects = 12
		ids := make([]string, subjects)
		for i := range ids {
			ids[i] = "video-c" + string(rune('a'+i))
		}
		h := newHarness(t, usecase.OrchestratorConfig{})
		h.subjects = NewMockSubjects(ids...)
		h.orch = h.build(usecase.OrchestratorConfig{}, usecase.NewUsageLedger(h.usage, model.DefaultTierTable(), newTestLogger()))

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				task := analyzeTask(model.TierPro)
				task.SubjectID = id
				if res := h.orch.Submit(ctx, task); res.Status == model.ResultSuccess {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}(id)
		}
		wg.Wait()

		used := h.usage.Used(testAccount, model.CapabilityVideoAnalysis)
		if used > 5 || succeeded > 5 {
			t.Fatalf("expected at most 5 runs, got used=%d succeeded=%d", used, succeeded)
		}
		if used != succeeded {
			t.Errorf("expected usage to match successful runs, got used=%d succeeded=%d", used, succeeded)
		}
	})

	t.Run("should hand the reserved unit back when stage 1 fails", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		h.vision.ProcessFunc = func(_ context.Context, in agent.VisionInput) model.Result {
			return model.Failed(in.TaskID, agent.VisionAgentID, model.ErrKindProcessingError, "backend down")
		}

		h.orch.Submit(ctx, analyzeTask(model.TierPro))

		if h.usage.releases != 1 || h.usage.Used(testAccount, model.CapabilityVideoAnalysis) != 0 {
			t.Errorf("expected one release back to 0, got releases=%d used=%d",
				h.usage.releases, h.usage.Used(testAccount, model.CapabilityVideoAnalysis))
		}
	})
}

func TestOrchestrator_PanicBeforeRun(t *testing.T) {
	t.Run("should convert a ledger panic into processing_error", func(t *testing.T) {
		h := newHarness(t, usecase.OrchestratorConfig{})
		orch := h.build(usecase.OrchestratorConfig{}, PanicLedger{})

		var res model.Result
		func() {
			defer func() {
				if p := recover(); p != nil {
					t.Fatalf("expected Submit to recover, got panic %v", p)
				}
			}()
			res = orch.Submit(context.Background(), analyzeTask(model.TierPro))
		}()

		if res.Status != model.ResultFailed || res.ErrorKind() != model.ErrKindProcessingError {
			t.Fatalf("expected processing_error, got %+v", res)
		}
		if res.TaskID == "" || res.AgentID != usecase.OrchestratorAgentID {
			t.Errorf("expected a stamped envelope, got %q/%q", res.TaskID, res.AgentID)
		}
		if h.subjects.Status(testSubject) != model.SubjectIdle {
			t.Error("expected subject untouched")
		}
	})
}
