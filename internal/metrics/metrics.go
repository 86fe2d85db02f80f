// Package metrics holds the prometheus collectors for the chat gateway and
// dispatcher. Collectors register with the default registry on import.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trailcrew_gateway_connections",
			Help: "Live websocket sessions on this instance",
		},
	)

	GatewayRoomSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trailcrew_gateway_room_subscriptions",
			Help: "Session-to-room subscriptions on this instance",
		},
	)

	GatewayAuthRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trailcrew_gateway_auth_rejections_total",
			Help: "Websocket handshakes rejected for a bad or expired token",
		},
	)

	GatewayEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trailcrew_gateway_events_published_total",
			Help: "Events published by type and target (room or user)",
		},
		[]string{"type", "target"},
	)

	GatewayEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trailcrew_gateway_events_dropped_total",
			Help: "Events not delivered to a session, by reason",
		},
		[]string{"reason"},
	)

	GatewayInboundFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trailcrew_gateway_inbound_frames_total",
			Help: "Client frames received by type",
		},
		[]string{"type"},
	)

	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trailcrew_messages_persisted_total",
			Help: "Messages persisted by room kind",
		},
		[]string{"room_kind"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trailcrew_dispatch_duration_seconds",
			Help:    "Time from validated send to room publish",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"room_kind"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trailcrew_notifications_created_total",
			Help: "Notification records created, by delivery outcome",
		},
		[]string{"delivery"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trailcrew_http_requests_total",
			Help: "REST requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trailcrew_http_request_duration_seconds",
			Help:    "REST request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

const (
	DropReasonSlowConsumer = "slow_consumer"
	DropReasonClosed       = "closed"
	DropReasonEncode       = "encode"
	DropReasonBroker       = "broker"

	DeliveryPushed     = "pushed"
	DeliverySuppressed = "suppressed"
)

func RecordDispatch(roomKind string, duration time.Duration) {
	MessagesPersisted.WithLabelValues(roomKind).Inc()
	DispatchDuration.WithLabelValues(roomKind).Observe(duration.Seconds())
}

func RecordNotification(suppressed bool) {
	if suppressed {
		NotificationsCreated.WithLabelValues(DeliverySuppressed).Inc()
		return
	}
	NotificationsCreated.WithLabelValues(DeliveryPushed).Inc()
}

func RecordPublish(eventType, target string) {
	GatewayEventsPublished.WithLabelValues(eventType, target).Inc()
}

func RecordDrop(reason string) {
	GatewayEventsDropped.WithLabelValues(reason).Inc()
}

func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
