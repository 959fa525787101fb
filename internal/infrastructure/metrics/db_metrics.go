package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger Logger) {
	gauges := []struct {
		name  string
		help  string
		query string
	}{
		{"commands_pending", "Commands waiting for dispatch", "SELECT COUNT(*) FROM commands WHERE status = 'PENDING'"},
		{"commands_failed", "Commands in terminal FAILED state", "SELECT COUNT(*) FROM commands WHERE status = 'FAILED' AND retryable = 0"},
		{"telemetry_pending", "Telemetry readings awaiting upload", "SELECT COUNT(*) FROM telemetry WHERE sync_status = 'PENDING'"},
		{"configuration_pending", "Configuration entries awaiting upload", "SELECT COUNT(*) FROM configuration WHERE sync_status = 'PENDING'"},
		{"devices_online", "Devices currently online", "SELECT COUNT(*) FROM devices WHERE is_online = 1"},
	}

	for _, g := range gauges {
		query := g.query
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + g.name,
				Help: g.help,
			},
			func() float64 {
				return queryCount(db, logger, query)
			},
		))
	}
}

func queryCount(db *sql.DB, logger Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", "error", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
