package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations tracks checkpoint store operations by result
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonet_checkpoint_operations_total",
			Help: "Total number of checkpoint operations",
		},
		[]string{"operation", "result"}, // get/set/delete, hit/miss/ok/error
	)
)

func recordOperation(operation, result string) {
	Operations.WithLabelValues(operation, result).Inc()
}
