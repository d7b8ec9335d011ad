package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealerchat_messages_stored_total",
			Help: "Total messages accepted by the store",
		},
		[]string{"sender_role"},
	)

	ConversationsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dealerchat_conversations_deleted_total",
			Help: "Total conversations permanently deleted",
		},
	)

	SessionsOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dealerchat_sessions_online",
			Help: "Currently joined live-channel sessions",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealerchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)
