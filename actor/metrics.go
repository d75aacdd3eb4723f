package actor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pilatus-run/pilatus/recipe"
)

// Prometheus metrics for mailbox traffic, mirroring the way the plugin SDK
// exposes scheduler throughput: counters per outcome plus mailbox-depth and
// registered-device gauges; ask latency is not measured. Registered once against the default registry; tests that build
// multiple systems in the same process share these series, which is fine
// since they're all labeled by device and message type.
var (
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pilatus",
			Subsystem: "actor",
			Name:      "messages_total",
			Help:      "Total messages sent to device mailboxes, by outcome.",
		},
		[]string{"device", "message_type", "outcome"},
	)

	asksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pilatus",
			Subsystem: "actor",
			Name:      "asks_total",
			Help:      "Total ask round trips, by outcome.",
		},
		[]string{"device", "message_type", "outcome"},
	)

	mailboxDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pilatus",
			Subsystem: "actor",
			Name:      "mailbox_depth",
			Help:      "Number of messages currently queued in a device's mailbox.",
		},
		[]string{"device"},
	)

	registeredDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pilatus",
			Subsystem: "actor",
			Name:      "registered_devices",
			Help:      "Number of devices currently registered with the actor system.",
		},
	)
)

func init() {
	prometheus.MustRegister(messagesTotal, asksTotal, mailboxDepth, registeredDevices)
}

func outcomeLabel(err error) string {
	switch err.(type) {
	case nil:
		return "ok"
	case *BusyError:
		return "busy"
	case *AbortedError:
		return "aborted"
	case *TimeoutError:
		return "timeout"
	case *UnknownDeviceError:
		return "unknown_device"
	case *UnknownMessageTypeError:
		return "unknown_message_type"
	default:
		return "error"
	}
}

func recordSend(device recipe.DeviceID, msgType string, err error) {
	messagesTotal.WithLabelValues(device.String(), msgType, outcomeLabel(err)).Inc()
}

func recordAsk(device recipe.DeviceID, msgType string, err error) {
	asksTotal.WithLabelValues(device.String(), msgType, outcomeLabel(err)).Inc()
}

func setMailboxDepth(device recipe.DeviceID, depth int) {
	mailboxDepth.WithLabelValues(device.String()).Set(float64(depth))
}

func clearMailboxDepth(device recipe.DeviceID) {
	mailboxDepth.DeleteLabelValues(device.String())
}
