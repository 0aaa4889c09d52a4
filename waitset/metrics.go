package waitset

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the prometheus metrics of a wait set.
type Metrics struct {
	Wakeups          prometheus.Counter
	EmptyWakeups     prometheus.Counter
	Timeouts         prometheus.Counter
	Interrupts       prometheus.Counter
	RejectedAttaches prometheus.Counter
	Attached         prometheus.Gauge
}

// NewMetrics returns wait set metrics registered in the given registerer.
func NewMetrics(promRegisterer prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.Wakeups = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "waitmux",
		Subsystem: "waitset",
		Name:      "wakeups_total",
		Help:      "Total number of times a wait call was woken.",
	})
	promRegisterer.MustRegister(m.Wakeups)

	m.EmptyWakeups = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "waitmux",
		Subsystem: "waitset",
		Name:      "empty_wakeups_total",
		Help:      "Total number of wakeups where a rescan found no latched trigger.",
	})
	promRegisterer.MustRegister(m.EmptyWakeups)

	m.Timeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "waitmux",
		Subsystem: "waitset",
		Name:      "timeouts_total",
		Help:      "Total number of timed waits that expired without a trigger.",
	})
	promRegisterer.MustRegister(m.Timeouts)

	m.Interrupts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "waitmux",
		Subsystem: "waitset",
		Name:      "interrupts_total",
		Help:      "Total number of waits ended by the guard condition.",
	})
	promRegisterer.MustRegister(m.Interrupts)

	m.RejectedAttaches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "waitmux",
		Subsystem: "waitset",
		Name:      "rejected_attaches_total",
		Help:      "Total number of attach calls rejected because of capacity or duplicates.",
	})
	promRegisterer.MustRegister(m.RejectedAttaches)

	m.Attached = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "waitmux",
		Subsystem: "waitset",
		Name:      "attached_conditions",
		Help:      "Number of currently attached conditions.",
	})
	promRegisterer.MustRegister(m.Attached)

	return m
}
