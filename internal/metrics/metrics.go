// Package metrics exposes the dispatcher's operational counters.
//
// The dispatcher has no synchronous caller, so these counters (plus the
// logs) are the only way its failures are observable.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	DispatchCycles  prometheus.Counter
	DispatchSeconds prometheus.Histogram
	RemindersSent   prometheus.Counter
	RemindersMissed prometheus.Counter
	DeliveryErrors  prometheus.Counter
	StoreErrors     prometheus.Counter
	ClaimConflicts  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		DispatchCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remindd", Subsystem: "dispatch",
			Name: "cycles_total", Help: "Completed dispatcher poll cycles.",
		}),
		DispatchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "remindd", Subsystem: "dispatch",
			Name: "cycle_seconds", Help: "Dispatcher cycle duration.",
			Buckets: prometheus.DefBuckets,
		}),
		RemindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remindd", Subsystem: "dispatch",
			Name: "sent_total", Help: "Reminders transitioned pending->sent.",
		}),
		RemindersMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remindd", Subsystem: "dispatch",
			Name: "missed_total", Help: "Reminders flipped to missed by the grace sweep.",
		}),
		DeliveryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remindd", Subsystem: "dispatch",
			Name: "delivery_errors_total", Help: "Delivery attempts that returned an error.",
		}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remindd", Subsystem: "dispatch",
			Name: "store_errors_total", Help: "Store failures isolated during a cycle.",
		}),
		ClaimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remindd", Subsystem: "dispatch",
			Name: "claim_conflicts_total", Help: "Due reminders already claimed by another actor.",
		}),
	}
	reg.MustRegister(
		m.DispatchCycles, m.DispatchSeconds,
		m.RemindersSent, m.RemindersMissed,
		m.DeliveryErrors, m.StoreErrors, m.ClaimConflicts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Nop returns metrics backed by an unexposed registry; components can
// always increment without nil checks.
func Nop() *Metrics { return New() }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
