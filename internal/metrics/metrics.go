// Package metrics exposes the broker's Prometheus gauges/counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goqttd_clients_connected",
		Help: "Number of currently connected MQTT clients",
	})

	SessionsPersisted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goqttd_sessions_persisted",
		Help: "Number of non-clean sessions with no live connection",
	})

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goqttd_messages_received_total",
			Help: "Total number of MQTT control packets received by type",
		},
		[]string{"type"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goqttd_messages_sent_total",
			Help: "Total number of MQTT control packets sent by type",
		},
		[]string{"type"},
	)

	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goqttd_connections_total",
		Help: "Total number of connection attempts",
	})

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goqttd_connections_rejected_total",
			Help: "Total CONNECT attempts rejected, by CONNACK return code",
		},
		[]string{"return_code"},
	)

	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goqttd_subscriptions_active",
		Help: "Number of active subscription filters",
	})

	RetainedMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goqttd_retained_messages",
		Help: "Number of retained messages currently stored",
	})

	QoSMessagesInflight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "goqttd_qos_messages_inflight",
			Help: "Number of in-flight QoS 1/2 messages",
		},
		[]string{"qos"},
	)

	PublishesDroppedUnauthorized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goqttd_publishes_dropped_unauthorized_total",
		Help: "Publishes silently dropped because the session lacked publish authorization",
	})
)
