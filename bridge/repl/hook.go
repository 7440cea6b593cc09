package repl

import (
	"time"

	"github.com/percona/percona-docbridge/metrics"
)

// MetricsHook exports every batch result to the metrics registry.
func MetricsHook(res BatchResult) {
	metrics.ObserveBatch(res.Collection, res.Size, res.Err != nil, res.Duration)

	if res.Err != nil || res.LastTime.T == 0 {
		return
	}

	lag := max(time.Now().Unix()-int64(res.LastTime.T), 0)
	metrics.SetLagTimeSeconds(res.Collection, uint32(lag)) //nolint:gosec
}

// Hooks combines hooks into one called in order.
func Hooks(hooks ...Hook) Hook {
	return func(res BatchResult) {
		for _, h := range hooks {
			if h != nil {
				h(res)
			}
		}
	}
}
