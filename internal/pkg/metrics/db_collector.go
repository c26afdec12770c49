package metrics

import "github.com/jackc/pgx/v5/pgxpool"

// RecordDBPoolMetrics snapshots the pgx pool state into the gauges. Called
// on a ticker by the app; pgxpool exposes no collector of its own.
func RecordDBPoolMetrics(pool *pgxpool.Pool) {
	stat := pool.Stat()

	DBPoolConnections.WithLabelValues("in_use").Set(float64(stat.AcquiredConns()))
	DBPoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
	DBPoolConnections.WithLabelValues("max").Set(float64(stat.MaxConns()))
}
