package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cmux-cli/cdpscript/internal/report"
)

var (
	metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cdpscript",
		Name:      "runs_total",
		Help:      "Script runs by outcome (success, failed, invalid, error).",
	}, []string{"outcome"})

	metricRunsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cdpscript",
		Name:      "runs_in_flight",
		Help:      "Script runs currently executing or waiting for the browser.",
	})

	metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cdpscript",
		Name:      "commands_total",
		Help:      "Executed commands by CDP method and status.",
	}, []string{"method", "status"})

	metricCommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cdpscript",
		Name:      "command_duration_seconds",
		Help:      "Wall-clock duration of executed commands.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"method"})

	metricValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cdpscript",
		Name:      "validations_total",
		Help:      "Script validations by result (valid, invalid).",
	}, []string{"result"})
)

func observeStep(res report.Result) {
	metricCommands.WithLabelValues(res.Method, string(res.Status)).Inc()
	if res.Status != report.StatusSkipped {
		metricCommandDuration.WithLabelValues(res.Method).Observe(res.Duration.Seconds())
	}
}

func observeValidation(valid bool) {
	if valid {
		metricValidations.WithLabelValues("valid").Inc()
		return
	}
	metricValidations.WithLabelValues("invalid").Inc()
}
