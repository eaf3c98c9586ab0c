package usecase

import (
	"strconv"

	"ai-analysis-pipeline/internal/domain/model"
)

// Translator resolves localized message templates.
type Translator interface {
	T(key string, args ...interface{}) string
}

// NotificationComposer turns run outcomes into localized notifications.
type NotificationComposer struct {
	tr Translator
}

func NewNotificationComposer(tr Translator) *NotificationComposer {
	return &NotificationComposer{tr: tr}
}

func (c *NotificationComposer) AnalysisReady(task model.Task, out *model.PipelineOutput, status model.ResultStatus) model.Notification {
	score := c.tr.T("notify.score_unknown")
	if out.Report.OverallScore != nil {
		score = strconv.Itoa(*out.Report.OverallScore)
	}

	n := model.Notification{
		AccountID: task.AccountID,
		Data: map[string]string{
			"task_id":    task.ID,
			"subject_id": task.SubjectID,
			"report_id":  out.ReportID,
			"status":     string(status),
		},
	}
	if status == model.ResultPartial {
		n.Type = model.NotificationAnalysisPartial
		n.Title = c.tr.T("notify.analysis_partial.title")
		n.Body = c.tr.T("notify.analysis_partial.body", score)
		return n
	}
	n.Type = model.NotificationAnalysisComplete
	n.Title = c.tr.T("notify.analysis_complete.title")
	n.Body = c.tr.T("notify.analysis_complete.body", score, out.Report.ErrorCount)
	return n
}

func (c *NotificationComposer) PlanReady(task model.Task, out *model.PlanOutput) model.Notification {
	return model.Notification{
		AccountID: task.AccountID,
		Type:      model.NotificationPlanReady,
		Title:     c.tr.T("notify.plan_ready.title"),
		Body:      c.tr.T("notify.plan_ready.body", len(out.Exercises)),
		Data: map[string]string{
			"task_id":    task.ID,
			"subject_id": task.SubjectID,
			"report_id":  out.ReportID,
			"status":     string(model.ResultSuccess),
		},
	}
}
