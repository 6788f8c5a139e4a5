package allowance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridpilot_allowance_checks_total",
			Help: "Allowance check outcomes by endpoint and reason",
		},
		[]string{"endpoint", "reason"},
	)

	resetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridpilot_allowance_resets_total",
			Help: "Daily allowance budget resets applied",
		},
	)

	backoffsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridpilot_allowance_backoffs_total",
			Help: "Backoff windows started after Solcast 429 responses",
		},
	)
)
