package model

type NotificationType string

const (
	NotificationAnalysisComplete NotificationType = "analysis_complete"
	NotificationAnalysisPartial  NotificationType = "analysis_partial"
	NotificationPlanReady        NotificationType = "plan_ready"
)

// Notification is a fire-and-forget message to an account.
type Notification struct {
	AccountID string
	Type      NotificationType
	Title     string
	Body      string
	Data      map[string]string
}
