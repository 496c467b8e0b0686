// Registers:
//
//	hyperflow_messages_received_total
//	hyperflow_trades_total
//	hyperflow_reconnects_total
//	hyperflow_duplicate_trades_total
//	hyperflow_invalid_timestamps_total
//	hyperflow_unparsed_messages_total
//	hyperflow_connected
//	go_* and process_* system metrics
//
// The registry is exposed through Handler so the monitor server can mount it.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once              sync.Once
	messagesReceived  prometheus.Counter
	tradesTotal       *prometheus.CounterVec
	reconnectsTotal   prometheus.Counter
	duplicateTrades   *prometheus.CounterVec
	invalidTimestamps prometheus.Counter
	unparsedMessages  prometheus.Counter
	connectedGauge    prometheus.Gauge
	registry          *prometheus.Registry
)

func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		messagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hyperflow_messages_received_total",
			Help: "Number of inbound websocket payloads",
		})
		tradesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperflow_trades_total",
			Help: "Number of accepted trades",
		}, []string{"coin"})
		reconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hyperflow_reconnects_total",
			Help: "Number of reconnect attempts",
		})
		duplicateTrades = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperflow_duplicate_trades_total",
			Help: "Number of trades rejected as immediate duplicates",
		}, []string{"coin"})
		invalidTimestamps = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hyperflow_invalid_timestamps_total",
			Help: "Number of trades carrying implausible server timestamps",
		})
		unparsedMessages = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hyperflow_unparsed_messages_total",
			Help: "Number of payloads that failed every classifier path",
		})
		connectedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hyperflow_connected",
			Help: "1 while a websocket session is established",
		})

		registry.MustRegister(
			messagesReceived,
			tradesTotal,
			reconnectsTotal,
			duplicateTrades,
			invalidTimestamps,
			unparsedMessages,
			connectedGauge,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// Handler exposes the registry for the monitor HTTP server.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func IncrementMessageReceived() {
	if messagesReceived != nil {
		messagesReceived.Inc()
	}
}

func IncrementTrade(coin string) {
	if tradesTotal != nil {
		tradesTotal.WithLabelValues(coin).Inc()
	}
}

func IncrementReconnect() {
	if reconnectsTotal != nil {
		reconnectsTotal.Inc()
	}
}

func IncrementDuplicateTrade(coin string) {
	if duplicateTrades != nil {
		duplicateTrades.WithLabelValues(coin).Inc()
	}
}

func IncrementInvalidTimestamp() {
	if invalidTimestamps != nil {
		invalidTimestamps.Inc()
	}
}

func IncrementUnparsed() {
	if unparsedMessages != nil {
		unparsedMessages.Inc()
	}
}

func SetConnected(connected bool) {
	if connectedGauge == nil {
		return
	}
	if connected {
		connectedGauge.Set(1)
	} else {
		connectedGauge.Set(0)
	}
}
