package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the coordinator.
type Metrics struct {
	ActiveAccounts      prometheus.Gauge
	ActiveConversations prometheus.Gauge
	AccountEvents       *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	WarmingMessages     prometheus.Counter
	AuthRequests        *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveAccounts: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_accounts",
			Help:      "Number of registered, non-removed accounts.",
		}),
		ActiveConversations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Number of live warming conversations.",
		}),
		AccountEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_events_total",
			Help:      "Account lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WarmingMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warming_messages_total",
			Help:      "Scripted messages instructed to agents.",
		}),
		AuthRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_requests_total",
			Help:      "Authentication attempts by outcome.",
		}, []string{"outcome"}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
