package sync

import (
	gosync "sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kdwycz/certimate-webhook/internal/domain"
)

var (
	metricsOnce gosync.Once

	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	outcomeTotal *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certsync",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Count of completed sync jobs by final status",
		}, []string{"status"})

		jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "certsync",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "End-to-end sync job duration",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"status"})

		outcomeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certsync",
			Subsystem: "hosts",
			Name:      "outcomes_total",
			Help:      "Count of per-host deployment outcomes",
		}, []string{"result"})

		for _, collector := range []prometheus.Collector{jobsTotal, jobDuration, outcomeTotal} {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						if collector == jobsTotal {
							jobsTotal = v
						} else if collector == outcomeTotal {
							outcomeTotal = v
						}
					case *prometheus.HistogramVec:
						jobDuration = v
					}
				}
			}
		}
	})
}

func recordJob(status domain.JobStatus, duration time.Duration) {
	initMetrics()
	jobsTotal.WithLabelValues(string(status)).Inc()
	jobDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

func recordHostOutcome(outcome domain.HostOutcome) {
	initMetrics()
	result := "ok"
	if !outcome.OK {
		result = outcome.FailureKind
		if result == "" {
			result = domain.FailureHost
		}
	}
	outcomeTotal.WithLabelValues(result).Inc()
}
