package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	MessagesReceived  atomic.Int64
	MalformedMessages atomic.Int64
	UnknownMessages   atomic.Int64
	InvalidPayloads   atomic.Int64
	InvalidFields     atomic.Int64
	VehiclesFlushed   atomic.Int64
	AlertsReceived    atomic.Int64

	TransitionEvents  atomic.Int64
	RuleAlerts        atomic.Int64
	Frames            atomic.Int64
	FramesSkipped     atomic.Int64
	ReconnectAttempts atomic.Int64

	HistoryWriteSuccess  atomic.Int64
	HistoryWriteFailures atomic.Int64
	HistoryChannelDrops  atomic.Int64
	StateChannelDrops    atomic.Int64
	RuleChannelDrops     atomic.Int64
	EventChannelDrops    atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "geostream_messages_received_total %d\n", MessagesReceived.Load())
	fmt.Fprintf(w, "geostream_messages_malformed_total %d\n", MalformedMessages.Load())
	fmt.Fprintf(w, "geostream_messages_unknown_total %d\n", UnknownMessages.Load())
	fmt.Fprintf(w, "geostream_payloads_invalid_total %d\n", InvalidPayloads.Load())
	fmt.Fprintf(w, "geostream_fields_invalid_total %d\n", InvalidFields.Load())
	fmt.Fprintf(w, "geostream_vehicles_flushed_total %d\n", VehiclesFlushed.Load())
	fmt.Fprintf(w, "geostream_alerts_received_total %d\n", AlertsReceived.Load())
	fmt.Fprintf(w, "geostream_transition_events_total %d\n", TransitionEvents.Load())
	fmt.Fprintf(w, "geostream_rule_alerts_total %d\n", RuleAlerts.Load())
	fmt.Fprintf(w, "geostream_frames_total %d\n", Frames.Load())
	fmt.Fprintf(w, "geostream_frames_skipped_total %d\n", FramesSkipped.Load())
	fmt.Fprintf(w, "geostream_reconnect_attempts_total %d\n", ReconnectAttempts.Load())
	fmt.Fprintf(w, "geostream_history_write_success_total %d\n", HistoryWriteSuccess.Load())
	fmt.Fprintf(w, "geostream_history_write_failures_total %d\n", HistoryWriteFailures.Load())
	fmt.Fprintf(w, "geostream_history_channel_drops_total %d\n", HistoryChannelDrops.Load())
	fmt.Fprintf(w, "geostream_state_channel_drops_total %d\n", StateChannelDrops.Load())
	fmt.Fprintf(w, "geostream_rule_channel_drops_total %d\n", RuleChannelDrops.Load())
	fmt.Fprintf(w, "geostream_event_channel_drops_total %d\n", EventChannelDrops.Load())
}
