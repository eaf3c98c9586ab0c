package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"ai-analysis-pipeline/internal/agent"
	"ai-analysis-pipeline/internal/domain"
	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/adapter"
	"ai-analysis-pipeline/internal/domain/ports/repository"
	"ai-analysis-pipeline/internal/infra/logging"
	"ai-analysis-pipeline/internal/infra/metrics"
)

// OrchestratorAgentID marks results produced by the orchestrator itself.
const OrchestratorAgentID = "orchestrator"

const notifyTimeout = 30 * time.Second

// Compile-time check
var _ OrchestratorUseCase = (*Orchestrator)(nil)

type OrchestratorUseCase interface {
	// Submit runs a task to completion and always returns an envelope.
	Submit(ctx context.Context, task model.Task) model.Result
}

type VisionProcessor interface {
	Process(ctx context.Context, in agent.VisionInput) model.Result
}

type PlanProcessor interface {
	Process(ctx context.Context, in agent.PlanInput) model.Result
}

// Dispatcher runs background work after a run has finished; worker.Pool
// satisfies it.
type Dispatcher interface {
	Submit(task func(ctx context.Context) error) error
}

type OrchestratorConfig struct {
	VisionTimeout time.Duration
	PlanTimeout   time.Duration
	LockTTL       time.Duration
}

// OrchestratorDeps are the injected collaborators. Notifier and Dispatcher
// may be nil.
type OrchestratorDeps struct {
	Vision     VisionProcessor
	Plan       PlanProcessor
	Ledger     UsageLedgerUseCase
	Tiers      model.TierTable
	Store      repository.ResultStore
	Subjects   repository.SubjectRepository
	Progress   adapter.ProgressBroadcaster
	Locker     adapter.SubjectLocker
	Notifier   adapter.Notifier
	Dispatcher Dispatcher
	Composer   *NotificationComposer
}

// Orchestrator drives the fixed two-stage pipeline: vision analysis, then
// plan generation.
type Orchestrator struct {
	deps OrchestratorDeps
	cfg  OrchestratorConfig
	log  *zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig, logger *zerolog.Logger) *Orchestrator {
	compLog := logger.With().Str("component", "Orchestrator").Logger()
	return &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		log:      &compLog,
		inflight: make(map[string]struct{}),
	}
}

// run tracks what a single Submit has changed so that failure paths can
// restore a terminal subject status and hand back a reserved quota unit.
type run struct {
	task       model.Task
	capability model.Capability
	log        *zerolog.Logger
	marked     bool
	reserved   bool
	committed  bool
	used       int
}

func (o *Orchestrator) Submit(ctx context.Context, task model.Task) (res model.Result) {
	start := time.Now()
	if task.ID == "" {
		task.ID = ulid.Make().String()
	}
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = start.UTC()
	}

	ctx = logging.WithTaskID(logging.WithSubjectID(logging.WithAccountID(ctx, task.AccountID), task.SubjectID), task.ID)
	r := &run{task: task, capability: task.Type.Capability(), log: logging.With(ctx, o.log)}
	defer logging.TraceDuration(r.log, "Orchestrator.Submit")()

	defer func() {
		res.TaskID = task.ID
		if res.AgentID == "" {
			res.AgentID = OrchestratorAgentID
		}
		res.ProcessingTimeMs = time.Since(start).Milliseconds()
	}()

	// Catches panics raised before the pipeline guard below is installed.
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("panic", fmt.Sprint(p)).Bytes("stack", debug.Stack()).Msg("submit panicked")
			res = model.Failed(task.ID, OrchestratorAgentID, model.ErrKindProcessingError, "internal error while processing the task")
		}
	}()

	if rej, ok := o.admit(ctx, r); !ok {
		metrics.IncRejection(string(rej.ErrorKind()))
		r.log.Info().Str("kind", string(rej.ErrorKind())).Msg("task rejected")
		return rej
	}

	if rej, ok := o.checkOwner(ctx, r); !ok {
		return rej
	}

	if !o.claim(task.ID) {
		return o.reject(r, model.ErrKindAlreadyInProgress, "a run with this task id is already in progress")
	}
	defer o.release(task.ID)

	unlock, ok, err := o.deps.Locker.TryLock(ctx, task.SubjectID, o.cfg.LockTTL)
	if err != nil {
		if ctx.Err() != nil {
			return o.reject(r, model.ErrKindCancelled, "request cancelled before the run started")
		}
		r.log.Error().Err(err).Msg("failed to acquire subject lock")
		return o.reject(r, model.ErrKindProcessingError, "could not acquire subject lock")
	}
	if !ok {
		return o.reject(r, model.ErrKindAlreadyInProgress, "subject is already being processed")
	}
	defer unlock()

	// A cancel observed from here on no longer aborts the run: stage calls
	// are detached and bounded by their own timeouts.
	runCtx := context.WithoutCancel(ctx)

	if rej, ok := o.reserveQuota(runCtx, r); !ok {
		return rej
	}
	defer o.settleQuota(runCtx, r)

	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("panic", fmt.Sprint(p)).Bytes("stack", debug.Stack()).Msg("pipeline panicked")
			o.failRun(runCtx, r, "internal error")
			res = model.Failed(task.ID, OrchestratorAgentID, model.ErrKindProcessingError, "internal error while processing the task")
		}
		metrics.IncPipelineRun(string(task.Type), string(res.Status))
	}()

	switch task.Type {
	case model.TaskTypeAnalyze:
		return o.runAnalysis(runCtx, r, true)
	case model.TaskTypeAssess:
		return o.runAnalysis(runCtx, r, false)
	default:
		return o.runPlanOnly(runCtx, r)
	}
}

// admit runs the side-effect free gates: validation, tier, quota and
// cancellation.
func (o *Orchestrator) admit(ctx context.Context, r *run) (model.Result, bool) {
	task := r.task
	if err := task.Validate(); err != nil {
		kind := model.ErrKindInvalidTask
		if errors.Is(err, domain.ErrUnknownTaskType) {
			kind = model.ErrKindUnknownTaskType
		}
		return model.Failed(task.ID, OrchestratorAgentID, kind, err.Error()), false
	}

	limit := o.deps.Tiers.Entitlement(task.Tier, r.capability).Limit()
	if limit == model.DisabledQuota {
		res := model.Failed(task.ID, OrchestratorAgentID, model.ErrKindUpgradeRequired,
			fmt.Sprintf("%s is not included in the %s tier", r.capability, task.Tier))
		if required, ok := o.deps.Tiers.MinimumTier(r.capability); ok {
			res.Error.RequiredTier = required
		}
		res.Error.Used, res.Error.Limit = intPtr(0), intPtr(limit)
		return res, false
	}

	check, err := o.deps.Ledger.CheckAndCountRemaining(ctx, task.AccountID, task.Tier, r.capability)
	if err != nil {
		r.log.Error().Err(err).Msg("quota check failed")
		return model.Failed(task.ID, OrchestratorAgentID, model.ErrKindProcessingError, "could not verify quota"), false
	}
	if !check.Allowed {
		return o.quotaExceeded(task, r.capability, check), false
	}

	if ctx.Err() != nil {
		return model.Failed(task.ID, OrchestratorAgentID, model.ErrKindCancelled, "request cancelled before the run started"), false
	}
	return model.Result{}, true
}

func (o *Orchestrator) quotaExceeded(task model.Task, capability model.Capability, check model.QuotaCheck) model.Result {
	res := model.Failed(task.ID, OrchestratorAgentID, model.ErrKindQuotaExceeded,
		fmt.Sprintf("monthly %s quota of %d is used up", capability, check.Limit))
	if next, ok := o.deps.Tiers.NextTierWithMoreQuota(task.Tier, capability, check.Limit); ok {
		res.Error.RequiredTier = next
	}
	res.Error.Used, res.Error.Limit = intPtr(check.Used), intPtr(check.Limit)
	return res
}

// checkOwner refuses analysis of a subject registered to another account.
// Unknown subjects pass here; the first status update reports them.
func (o *Orchestrator) checkOwner(ctx context.Context, r *run) (model.Result, bool) {
	task := r.task
	if task.Type != model.TaskTypeAnalyze && task.Type != model.TaskTypeAssess {
		return model.Result{}, true
	}
	subj, err := o.deps.Subjects.FindByID(ctx, repository.NoTX, task.SubjectID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return model.Result{}, true
	case err != nil:
		r.log.Error().Err(err).Msg("failed to load subject")
		return o.reject(r, model.ErrKindProcessingError, "could not load subject"), false
	case subj.AccountID != "" && subj.AccountID != task.AccountID:
		r.log.Warn().Msg("subject belongs to another account")
		return o.reject(r, model.ErrKindNotFound, "subject not found"), false
	}
	return model.Result{}, true
}

// reserveQuota takes the unit the run will consume. The read-only check in
// admit gives early feedback; this is the atomic step that holds under
// concurrent runs of one account.
func (o *Orchestrator) reserveQuota(ctx context.Context, r *run) (model.Result, bool) {
	check, err := o.deps.Ledger.Reserve(ctx, r.task.AccountID, r.task.Tier, r.capability)
	if err != nil {
		r.log.Error().Err(err).Msg("quota reservation failed")
		return o.reject(r, model.ErrKindProcessingError, "could not verify quota"), false
	}
	if !check.Allowed {
		metrics.IncRejection(string(model.ErrKindQuotaExceeded))
		r.log.Info().Int("used", check.Used).Int("limit", check.Limit).Msg("quota taken by a concurrent run")
		return o.quotaExceeded(r.task, r.capability, check), false
	}
	r.reserved, r.used = true, check.Used
	return model.Result{}, true
}

// settleQuota hands the reserved unit back unless the run delivered output.
func (o *Orchestrator) settleQuota(ctx context.Context, r *run) {
	if !r.reserved || r.committed {
		return
	}
	if err := o.deps.Ledger.Release(ctx, r.task.AccountID, r.capability); err != nil {
		r.log.Error().Err(err).Msg("failed to release reserved usage")
	}
}

func (o *Orchestrator) reject(r *run, kind model.ErrorKind, msg string) model.Result {
	metrics.IncRejection(string(kind))
	r.log.Info().Str("kind", string(kind)).Msg(msg)
	return model.Failed(r.task.ID, OrchestratorAgentID, kind, msg)
}

func (o *Orchestrator) runAnalysis(ctx context.Context, r *run, withPlan bool) model.Result {
	task := r.task
	payload := task.Payload.(model.AnalyzePayload)

	if err := o.deps.Subjects.UpdateStatus(ctx, repository.NoTX, task.SubjectID, model.SubjectProcessing); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return model.Failed(task.ID, OrchestratorAgentID, model.ErrKindNotFound, "subject not found")
		}
		r.log.Error().Err(err).Msg("failed to mark subject processing")
		return model.Failed(task.ID, OrchestratorAgentID, model.ErrKindProcessingError, "could not update subject status")
	}
	r.marked = true
	o.publish(task, model.StageQueued, "queued")
	o.publish(task, model.StageAnalyzing, "analyzing video")

	// Stage 1
	stage1 := o.callStage(ctx, o.cfg.VisionTimeout, task.ID, agent.VisionAgentID, func(ctx context.Context) model.Result {
		return o.deps.Vision.Process(ctx, agent.VisionInput{TaskID: task.ID, Payload: payload})
	})
	if !stage1.Usable() {
		msg := "video analysis failed"
		if stage1.Error != nil {
			msg = stage1.Error.Message
		}
		r.log.Warn().Str("kind", string(stage1.ErrorKind())).Msg("stage 1 failed")
		o.failRun(ctx, r, msg)
		stage1.TaskID = task.ID
		return stage1
	}
	vision := stage1.Data.(*model.VisionOutput)

	report := vision.Report
	report.SubjectID = task.SubjectID
	report.AccountID = task.AccountID
	reportID, err := o.deps.Store.SaveAnalysis(ctx, &report, vision.Errors, nil, vision.Stats)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to persist analysis")
		o.failRun(ctx, r, "analysis could not be saved")
		res := model.Failed(task.ID, OrchestratorAgentID, model.ErrKindProcessingError, "analysis could not be saved")
		res.Children = []model.Result{stage1}
		return res
	}
	report.ID = reportID

	out := &model.PipelineOutput{
		ReportID: reportID,
		Report:   report,
		Errors:   vision.Errors,
		Stats:    vision.Stats,
	}
	res := model.Result{
		Status:        model.ResultSuccess,
		Data:          out,
		Confidence:    stage1.Confidence,
		ParseDegraded: stage1.ParseDegraded,
		Children:      []model.Result{stage1},
	}

	// Stage 2
	if withPlan {
		o.publish(task, model.StageGenerating, "generating training plan")
		stage2 := o.callStage(ctx, o.cfg.PlanTimeout, task.ID, agent.PlanAgentID, func(ctx context.Context) model.Result {
			return o.deps.Plan.Process(ctx, agent.PlanInput{
				TaskID:      task.ID,
				ReportID:    reportID,
				Summary:     report.Summary,
				Errors:      vision.Errors,
				PlayerLevel: payload.PlayerLevel,
				FocusNotes:  payload.Notes,
			})
		})
		if stage2.Usable() {
			plan := stage2.Data.(*model.PlanOutput)
			if err := o.deps.Store.SavePlan(ctx, reportID, plan.Exercises); err != nil {
				r.log.Error().Err(err).Str("report_id", reportID).Msg("failed to persist plan")
				stage2 = model.Failed(task.ID, agent.PlanAgentID, model.ErrKindProcessingError, "training plan could not be saved")
			} else {
				out.Exercises = plan.Exercises
				res.ParseDegraded = res.ParseDegraded || stage2.ParseDegraded
			}
		}
		res.Children = append(res.Children, stage2)

		if !stage2.Usable() {
			r.log.Warn().Str("kind", string(stage2.ErrorKind())).Msg("stage 2 failed, delivering analysis only")
			res.Status = model.ResultPartial
			out.Note = "training plan generation failed"
			res.Error = &model.ResultError{Kind: model.ErrKindProcessingError, Message: out.Note}
			if stage2.Error != nil {
				res.Error.Kind = stage2.Error.Kind
				out.Note += ": " + stage2.Error.Message
			}
		}
	}

	o.completeRun(ctx, r)
	if o.deps.Composer != nil {
		o.notifyAsync(r, o.deps.Composer.AnalysisReady(task, out, res.Status))
	}
	return res
}

func (o *Orchestrator) runPlanOnly(ctx context.Context, r *run) model.Result {
	task := r.task
	payload := task.Payload.(model.GeneratePlanPayload)

	bundle, err := o.deps.Store.GetAnalysis(ctx, payload.ReportID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return model.Failed(task.ID, OrchestratorAgentID, model.ErrKindNotFound, "report not found")
		}
		r.log.Error().Err(err).Str("report_id", payload.ReportID).Msg("failed to load report")
		return model.Failed(task.ID, OrchestratorAgentID, model.ErrKindProcessingError, "could not load report")
	}
	if bundle.Report.AccountID != task.AccountID {
		return model.Failed(task.ID, OrchestratorAgentID, model.ErrKindNotFound, "report not found")
	}

	o.publish(task, model.StageGenerating, "generating training plan")
	stage2 := o.callStage(ctx, o.cfg.PlanTimeout, task.ID, agent.PlanAgentID, func(ctx context.Context) model.Result {
		return o.deps.Plan.Process(ctx, agent.PlanInput{
			TaskID:      task.ID,
			ReportID:    bundle.Report.ID,
			Summary:     bundle.Report.Summary,
			Errors:      bundle.Errors,
			PlayerLevel: payload.PlayerLevel,
			FocusNotes:  payload.FocusNotes,
		})
	})
	if stage2.Usable() {
		plan := stage2.Data.(*model.PlanOutput)
		if err := o.deps.Store.SavePlan(ctx, bundle.Report.ID, plan.Exercises); err != nil {
			r.log.Error().Err(err).Msg("failed to persist plan")
			stage2 = model.Failed(task.ID, agent.PlanAgentID, model.ErrKindProcessingError, "training plan could not be saved")
		}
	}
	if !stage2.Usable() {
		msg := "training plan generation failed"
		if stage2.Error != nil {
			msg = stage2.Error.Message
		}
		o.publish(task, model.StageError, msg)
		stage2.TaskID = task.ID
		return stage2
	}

	o.consumeQuota(r)
	o.publish(task, model.StageComplete, "complete")
	plan := stage2.Data.(*model.PlanOutput)
	if o.deps.Composer != nil {
		o.notifyAsync(r, o.deps.Composer.PlanReady(task, plan))
	}
	stage2.TaskID = task.ID
	return stage2
}

// callStage bounds a processor call by timeout and converts panics into a
// failed result. A processor that ignores ctx is abandoned at the deadline.
func (o *Orchestrator) callStage(ctx context.Context, timeout time.Duration, taskID, agentID string, fn func(ctx context.Context) model.Result) model.Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan model.Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				o.log.Error().Str("agent", agentID).Str("panic", fmt.Sprint(p)).Bytes("stack", debug.Stack()).Msg("processor panicked")
				done <- model.Failed(taskID, agentID, model.ErrKindProcessingError, "processor crashed")
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return model.Failed(taskID, agentID, model.ErrKindProcessingError, agentID+" timed out")
	}
}

// completeRun performs the terminal writes of a successful or partial run.
func (o *Orchestrator) completeRun(ctx context.Context, r *run) {
	if err := o.deps.Subjects.UpdateStatus(ctx, repository.NoTX, r.task.SubjectID, model.SubjectComplete); err != nil {
		// the report is stored; the reaper settles the status if this keeps failing
		r.log.Error().Err(err).Msg("failed to mark subject complete")
	}
	r.marked = false
	o.consumeQuota(r)
	o.publish(r.task, model.StageComplete, "complete")
}

// consumeQuota keeps the reserved unit.
func (o *Orchestrator) consumeQuota(r *run) {
	r.committed = true
	r.log.Info().Int("used", r.used).Str("capability", string(r.capability)).Msg("run completed")
}

// failRun moves a subject marked processing to failed and publishes the
// terminal error event.
func (o *Orchestrator) failRun(ctx context.Context, r *run, msg string) {
	if !r.marked {
		return
	}
	if err := o.deps.Subjects.UpdateStatus(ctx, repository.NoTX, r.task.SubjectID, model.SubjectFailed); err != nil {
		r.log.Error().Err(err).Msg("failed to mark subject failed")
	}
	r.marked = false
	o.publish(r.task, model.StageError, msg)
}

func (o *Orchestrator) publish(task model.Task, stage model.ProgressStage, msg string) {
	if o.deps.Progress == nil {
		return
	}
	o.deps.Progress.Publish(task.SubjectID, model.NewProgressEvent(task.SubjectID, task.ID, stage, msg))
}

// notifyAsync hands delivery to the dispatcher. Called only after the
// terminal writes so receivers can read complete state.
func (o *Orchestrator) notifyAsync(r *run, n model.Notification) {
	if o.deps.Notifier == nil {
		return
	}
	log := r.log
	send := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := o.deps.Notifier.Notify(ctx, n); err != nil {
			log.Warn().Err(err).Str("type", string(n.Type)).Msg("notification failed")
		}
		return nil
	}

	if o.deps.Dispatcher == nil {
		go func() { _ = send(context.Background()) }()
		return
	}
	if err := o.deps.Dispatcher.Submit(send); err != nil {
		log.Warn().Err(err).Str("type", string(n.Type)).Msg("notification dropped")
	}
}

func (o *Orchestrator) claim(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inflight[taskID]; ok {
		return false
	}
	o.inflight[taskID] = struct{}{}
	return true
}

func (o *Orchestrator) release(taskID string) {
	o.mu.Lock()
	delete(o.inflight, taskID)
	o.mu.Unlock()
}

func intPtr(v int) *int { return &v }
