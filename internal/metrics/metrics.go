// Package metrics provides Prometheus metrics for the crawl tracker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlwatch_stream_events_total",
			Help: "Total number of decoded stream events by kind",
		},
		[]string{"kind"},
	)
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawlwatch_stream_events_dropped_total",
			Help: "Total number of malformed stream frames dropped",
		},
	)
	TransportErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawlwatch_stream_transport_errors_total",
			Help: "Total number of unexpected stream failures",
		},
	)
	StreamsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawlwatch_streams_open",
			Help: "Number of currently open push channels",
		},
	)
	StreamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawlwatch_stream_reconnects_total",
			Help: "Total number of watchdog-driven stream reopens",
		},
	)
	WatchdogPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawlwatch_watchdog_polls_total",
			Help: "Total number of watchdog status polls",
		},
	)
	BackupCompletions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawlwatch_backup_completions_total",
			Help: "Total number of tasks completed via the authoritative fetch fallback",
		},
	)
	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlwatch_tasks_finished_total",
			Help: "Total number of tracked tasks that reached a terminal state",
		},
		[]string{"status"},
	)
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlwatch_notifications_total",
			Help: "Total number of notifications emitted",
		},
		[]string{"kind"},
	)
)

func RecordStreamEvent(kind string) {
	StreamEvents.WithLabelValues(kind).Inc()
}

func RecordEventDropped() {
	EventsDropped.Inc()
}

func RecordTransportError() {
	TransportErrors.Inc()
}

func RecordStreamOpened() {
	StreamsOpen.Inc()
}

func RecordStreamClosed() {
	StreamsOpen.Dec()
}

func RecordStreamReconnect() {
	StreamReconnects.Inc()
}

func RecordWatchdogPoll() {
	WatchdogPolls.Inc()
}

func RecordBackupCompletion() {
	BackupCompletions.Inc()
}

func RecordTaskFinished(status string) {
	TasksFinished.WithLabelValues(status).Inc()
}

func RecordNotification(kind string) {
	Notifications.WithLabelValues(kind).Inc()
}
