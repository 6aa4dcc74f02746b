package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay metrics for monitoring the stream pipeline end to end
var (
	// Stream processing metrics
	StreamEntriesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_stream_entries_processed_total",
		Help: "Total number of stream entries processed",
	}, []string{"stream", "status"}) // status: "ok", "error", "skipped"

	StreamEntryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_stream_entry_duration_seconds",
		Help:    "Time taken to handle one stream entry",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"stream"})

	// Webhook intake metrics
	WebhookReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_webhook_received_total",
		Help: "Total number of webhook notifications received",
	}, []string{"status"}) // status: "accepted", "dropped", "rejected"

	// Auto-reply metrics
	AutoRepliesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_auto_replies_sent_total",
		Help: "Total number of auto-replies sent",
	}, []string{"trigger_type"})

	AutoReplyCooldownSkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_auto_reply_cooldown_skips_total",
		Help: "Total number of rule matches skipped due to an active cooldown",
	})

	// Marketplace gateway metrics
	AvitoSendFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_avito_send_failed_total",
		Help: "Total number of failed marketplace sends",
	}, []string{"action_type"})

	AvitoTokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_avito_token_refresh_total",
		Help: "Total number of marketplace token refresh attempts",
	}, []string{"status"}) // status: "ok", "failed", "revoked"

	// Telegram delivery metrics
	TelegramSendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_telegram_send_total",
		Help: "Total number of Telegram deliveries attempted",
	}, []string{"type", "status"})

	TelegramDLQTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_telegram_dlq_total",
		Help: "Total number of Telegram messages moved to the dead-letter stream",
	})

	// Conversation view metrics
	ViewRehydrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_view_rehydrations_total",
		Help: "Total number of conversation views rebuilt from the marketplace",
	}, []string{"status"})

	ViewSubscribersUpdated = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_view_subscribers_updated",
		Help:    "Number of subscriber cards refreshed per view update",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})
)
