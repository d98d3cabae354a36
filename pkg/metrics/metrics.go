// Package metrics exposes coordinator counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "calchat"

// Realtime counts realtime session activity. It satisfies
// realtime.Metrics.
type Realtime struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	relayed       prometheus.Counter
	stale         prometheus.Counter
	opened        prometheus.Counter
	closed        prometheus.Counter
	session       prometheus.Gauge
	conversation  prometheus.Gauge
}

// New registers the realtime collectors, plus the Go runtime and process
// collectors, on a private registry.
func New() *Realtime {
	m := &Realtime{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Chat events received, by channel origin and whether the user sent them.",
		}, []string{"origin", "own"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification dispatch outcomes.",
		}, []string{"outcome"}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_relayed_total",
			Help:      "Conversation events handed to the open view.",
		}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_stale_total",
			Help:      "Events dropped because their channel was replaced or closed.",
		}),
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_opened_total",
			Help:      "Conversation channel subscriptions.",
		}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_closed_total",
			Help:      "Conversation channel unsubscriptions.",
		}),
		session: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "1 while a realtime session is live.",
		}),
		conversation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_open",
			Help:      "1 while a conversation channel is subscribed.",
		}),
	}
	m.registry.MustRegister(
		m.events, m.notifications, m.relayed, m.stale,
		m.opened, m.closed, m.session, m.conversation,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Realtime) EventReceived(origin string, own bool) {
	m.events.WithLabelValues(origin, strconv.FormatBool(own)).Inc()
}

func (m *Realtime) NotificationDispatched(outcome string) {
	m.notifications.WithLabelValues(outcome).Inc()
}

func (m *Realtime) EventRelayed()      { m.relayed.Inc() }
func (m *Realtime) StaleEventDropped() { m.stale.Inc() }

func (m *Realtime) ConversationOpened() {
	m.opened.Inc()
	m.conversation.Set(1)
}

func (m *Realtime) ConversationClosed() {
	m.closed.Inc()
	m.conversation.Set(0)
}

func (m *Realtime) SessionActive(active bool) {
	if active {
		m.session.Set(1)
		return
	}
	m.session.Set(0)
	m.conversation.Set(0)
}

// Registry returns the registry, for callers adding their own collectors.
func (m *Realtime) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry.
func (m *Realtime) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
