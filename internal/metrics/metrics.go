// Package metrics exposes Prometheus collectors for the live quiz engine.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	openConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_quiz_open_connections",
		Help: "Number of open websocket connections",
	})

	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_quiz_commands_total",
			Help: "Inbound commands by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	answersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_quiz_answers_total",
			Help: "Recorded answers by correctness",
		},
		[]string{"correct"},
	)

	sweptSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_quiz_swept_sessions_total",
		Help: "Sessions auto-completed by the stale session sweeper",
	})
)

func ConnectionOpened() { openConnections.Inc() }
func ConnectionClosed() { openConnections.Dec() }

// ObserveCommand counts one handled command. outcome is "ok" or an error code.
func ObserveCommand(typ, outcome string) {
	commandsTotal.WithLabelValues(typ, outcome).Inc()
}

func ObserveAnswer(correct bool) {
	answersTotal.WithLabelValues(strconv.FormatBool(correct)).Inc()
}

func ObserveSweep(n int) {
	sweptSessions.Add(float64(n))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
