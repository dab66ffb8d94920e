// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package emulatorvm

import (
	"time"

	"github.com/ava-labs/avalanchego/utils/wrappers"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "emulatorvm"

type metrics struct {
	sessions       prometheus.Gauge
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	replayedCycles prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions",
			Help:      "Number of live sessions",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests",
			Help:      "Number of handled requests by method and result",
		}, []string{"method", "result"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent handling requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		replayedCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "replayed_cycles",
			Help:      "Number of cycles executed to reach a requested cycle",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(m.sessions),
		registerer.Register(m.requests),
		registerer.Register(m.requestLatency),
		registerer.Register(m.replayedCycles),
	)
	return m, errs.Err
}

// observe records the outcome of a request to [method] started at [start]
func (m *metrics) observe(method string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.requests.WithLabelValues(method, result).Inc()
	m.requestLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
