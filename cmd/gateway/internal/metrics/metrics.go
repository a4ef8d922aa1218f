package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stockpush"

var (
	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_sessions",
		Help:      "Active websocket sessions",
	})
	SessionOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_session_open_total",
		Help:      "Total websocket sessions opened",
	})
	SessionCloseTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_session_close_total",
		Help:      "Total websocket sessions closed",
	})

	SubscriptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscriptions_total",
		Help:      "Total accepted subscription messages",
	})
	MalformedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "malformed_messages_total",
		Help:      "Total inbound messages dropped because they could not be parsed",
	})

	PushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pushes_total",
		Help:      "Snapshot pushes by trigger",
	}, []string{"trigger"}) // periodic/subscribe
	PushDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_dropped_total",
		Help:      "Snapshot pushes not delivered",
	}, []string{"why"}) // not_open/send_failed

	UpdaterTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "updater_ticks_total",
		Help:      "Total price updater ticks applied",
	})
	UpdaterFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "updater_failures_total",
		Help:      "Total price updater terminations caused by an error",
	})
	UpdaterRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "updater_running",
		Help:      "1 while the price updater loop is running",
	})
	SinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_errors_total",
		Help:      "Tick publication errors by sink",
	}, []string{"sink"})
)

func OnSessionOpen() {
	Sessions.Inc()
	SessionOpenTotal.Inc()
}

func OnSessionClose() {
	Sessions.Dec()
	SessionCloseTotal.Inc()
}
