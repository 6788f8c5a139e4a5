package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridpilot_poller_job_runs_total",
			Help: "Scheduled job runs by job and outcome",
		},
		[]string{"job", "outcome"},
	)

	plannerActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridpilot_planner_actions_total",
			Help: "Planner decisions by reason",
		},
		[]string{"reason"},
	)
)
