package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolConnections, dbPoolEmptyAcquires) }

var (
	dbPoolConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_db_pool_connections",
			Help: "Postgres pool connections by state.",
		},
		[]string{"state"}, // total, idle, acquired, max
	)

	dbPoolEmptyAcquires = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_db_pool_empty_acquires",
			Help: "Acquires that had to wait for a connection since the pool started.",
		},
	)
)

// DBPoolSnapshot is one reading of the connection pool.
type DBPoolSnapshot struct {
	Total, Idle, Acquired, Max int32
	EmptyAcquires              int64
}

func SetDBPoolStats(s DBPoolSnapshot) {
	dbPoolConnections.WithLabelValues("total").Set(float64(s.Total))
	dbPoolConnections.WithLabelValues("idle").Set(float64(s.Idle))
	dbPoolConnections.WithLabelValues("acquired").Set(float64(s.Acquired))
	dbPoolConnections.WithLabelValues("max").Set(float64(s.Max))
	dbPoolEmptyAcquires.Set(float64(s.EmptyAcquires))
}
