package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the bot.
type Metrics struct {
	registry *prometheus.Registry

	Events         *prometheus.CounterVec
	Errors         *prometheus.CounterVec
	TasksCreated   prometheus.Counter
	CalendarCalls  *prometheus.CounterVec
	RemindersSent  prometheus.Counter
	ActiveSessions prometheus.GaugeFunc
}

// NewMetrics registers the instruments on a private registry. activeSessions
// is sampled on every scrape; nil reports zero.
func NewMetrics(namespace string, activeSessions func() int) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	if activeSessions == nil {
		activeSessions = func() int { return 0 }
	}
	return &Metrics{
		registry: reg,
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound chat events by routing decision.",
		}, []string{"route"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors reported to users by kind.",
		}, []string{"kind"}),
		TasksCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Tasks created through the wizard or /add.",
		}),
		CalendarCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_calls_total",
			Help:      "Calendar provider calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		RemindersSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Due reminders delivered.",
		}),
		ActiveSessions: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Chats with a wizard or pending expectation.",
		}, func() float64 { return float64(activeSessions()) }),
	}
}

// ObserveCalendar counts one provider call.
func (m *Metrics) ObserveCalendar(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.CalendarCalls.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
