// Package metrics turns event bus traffic into Prometheus series.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"remindbot/internal/eventbus"
	"remindbot/internal/intent"
	"remindbot/internal/notifier"
	"remindbot/internal/task/scheduler"
)

type Metrics struct {
	namespace     string
	registry      prometheus.Registerer
	registrations *prometheus.CounterVec
	fires         *prometheus.CounterVec
	fireDuration  prometheus.Histogram
	cancellations prometheus.Counter
	sends         *prometheus.CounterVec
	sendDuration  *prometheus.HistogramVec
	routed        *prometheus.CounterVec
}

// New registers the collectors on reg (the default registerer when nil).
// activeJobs, when set, backs the active jobs gauge.
func New(namespace string, reg prometheus.Registerer, activeJobs func() int) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		namespace: namespace,
		registry:  reg,
		registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_registrations_total",
				Help:      "Job registrations by outcome",
			},
			[]string{"kind", "outcome"},
		),
		fires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_fires_total",
				Help:      "Fired jobs by status",
			},
			[]string{"kind", "status"},
		),
		fireDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_fire_duration_seconds",
				Help:      "Time spent delivering a fired job",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		cancellations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_cancellations_total",
				Help:      "Jobs cancelled by users",
			},
		),
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Outbound messages by kind and status",
			},
			[]string{"kind", "status"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_send_duration_seconds",
				Help:      "Duration of outbound sends",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"kind"},
		),
		routed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_routed_total",
				Help:      "Inbound messages by routing decision",
			},
			[]string{"action"},
		),
	}

	reg.MustRegister(
		m.registrations,
		m.fires,
		m.fireDuration,
		m.cancellations,
		m.sends,
		m.sendDuration,
		m.routed,
	)
	if activeJobs != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_active",
				Help:      "Jobs currently held by the scheduler",
			},
			func() float64 { return float64(activeJobs()) },
		))
	}
	return m
}

// TrackBus exports the bus drop counter, which reveals observers that fall
// behind (metrics and audit included).
func (m *Metrics) TrackBus(bus eventbus.Bus) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "eventbus_dropped_total",
			Help:      "Events not delivered to a subscriber whose buffer was full",
		},
		func() float64 { return float64(bus.Dropped()) },
	))
}

// Observe records one event. Unknown types are ignored.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TypeJobRegistered, eventbus.TypeJobReplaced, eventbus.TypeJobDuplicate:
		if je, ok := ev.Data.(scheduler.JobEvent); ok {
			m.registrations.WithLabelValues(string(je.Kind), je.Outcome.String()).Inc()
		}
	case eventbus.TypeJobFired, eventbus.TypeJobFailed:
		je, ok := ev.Data.(scheduler.JobEvent)
		if !ok {
			return
		}
		status := "ok"
		if ev.Type == eventbus.TypeJobFailed {
			status = "error"
		}
		m.fires.WithLabelValues(string(je.Kind), status).Inc()
		m.fireDuration.Observe(je.Took.Seconds())
	case eventbus.TypeJobCancelled:
		m.cancellations.Inc()
	case eventbus.TypeReplySent, eventbus.TypeReplyFailed:
		ne, ok := ev.Data.(notifier.NotificationEvent)
		if !ok {
			return
		}
		status := "ok"
		if ev.Type == eventbus.TypeReplyFailed {
			status = "error"
		}
		m.sends.WithLabelValues(string(ne.Kind), status).Inc()
		m.sendDuration.WithLabelValues(string(ne.Kind)).Observe(ne.Took.Seconds())
	case eventbus.TypeUpdateRouted:
		if a, ok := ev.Data.(intent.Action); ok {
			m.routed.WithLabelValues(a.Kind.String()).Inc()
		}
	}
}

// Run feeds bus events into Observe until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) {
	if bus == nil {
		<-ctx.Done()
		return
	}
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}
