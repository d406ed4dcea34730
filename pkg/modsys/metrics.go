// SPDX-License-Identifier: MPL-2.0

package modsys

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	created         prometheus.Counter
	transitions     *prometheus.CounterVec
	failures        *prometheus.CounterVec
	releases        prometheus.Counter
	pending         prometheus.Gauge
	resolveDuration prometheus.Histogram
}

func newMetrics() *metrics {
	return &metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modsys_instances_created_total",
			Help: "Number of module instances created.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modsys_transitions_total",
			Help: "Number of state transitions by target state.",
		}, []string{"state"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modsys_failures_total",
			Help: "Number of instances that failed, by failure kind.",
		}, []string{"kind"}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modsys_releases_total",
			Help: "Number of instances torn down by Release.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modsys_pending_instances",
			Help: "Instances the worker is currently advancing.",
		}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "modsys_resolve_duration_seconds",
			Help:    "Time Resolve callers waited for an instance to finish.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.created, m.transitions, m.failures, m.releases, m.pending, m.resolveDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
