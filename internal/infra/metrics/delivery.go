package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(progressEventsTotal, progressSubscribers, notificationsTotal, rateLimitedTotal)
}

var (
	progressEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_events_total",
			Help: "Progress events handed to subscribers, by outcome.",
		},
		[]string{"broadcaster", "outcome"}, // outcome: delivered, dropped
	)

	progressSubscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "progress_subscribers",
			Help: "Currently attached progress subscribers.",
		},
		[]string{"broadcaster"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Completion notifications, by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "api_rate_limited_total",
			Help: "Submissions refused by the per-account rate limiter.",
		},
	)
)

func IncProgress(broadcaster, outcome string) {
	progressEventsTotal.WithLabelValues(norm(broadcaster), norm(outcome)).Inc()
}

func AddSubscribers(broadcaster string, delta int) {
	progressSubscribers.WithLabelValues(norm(broadcaster)).Add(float64(delta))
}

func IncNotification(channel, outcome string) {
	notificationsTotal.WithLabelValues(norm(channel), norm(outcome)).Inc()
}

func IncRateLimited() {
	rateLimitedTotal.Inc()
}
