package service

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	requests      *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "print_requests_total",
				Help: "Print requests by final outcome.",
			},
			[]string{"outcome"},
		),
		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "print_stage_failures_total",
				Help: "Pipeline stage failures by stage and failure policy.",
			},
			[]string{"stage", "policy"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "print_stage_duration_seconds",
				Help:    "Pipeline stage latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
	}
	for _, c := range []prometheus.Collector{m.requests, m.stageFailures, m.stageDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
