package matching

import (
	"time"

	"rbus/internal/metrics"
)

func observe(op string, start time.Time, err *error) {
	metrics.MatchingDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "ok"
	if *err != nil {
		result = "error"
	}
	metrics.MatchingOps.WithLabelValues(op, result).Inc()
}
