package webgui

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "webgui",
		Name:      "connections",
		Help:      "Number of open frontend connections.",
	})
	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "webgui",
		Name:      "sessions",
		Help:      "Number of live sessions.",
	})
	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "webgui",
		Name:      "pending_calls",
		Help:      "Number of frontend calls waiting for results.",
	})
	callsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webgui",
		Name:      "calls_total",
		Help:      "Calls handled, by direction (backend, frontend) and result.",
	}, []string{"direction", "result"})
	rendersCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webgui",
		Name:      "renders_total",
		Help:      "Component renders, by result.",
	}, []string{"result"})
	droppedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "webgui",
		Name:      "dropped_messages_total",
		Help:      "Incoming messages that could not be decoded.",
	})
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
