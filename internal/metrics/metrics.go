package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgengine_messages_total",
			Help: "Queued message lifecycle counter by stage and channel",
		},
		[]string{"stage", "channel"}, // queued|sent|failed|retried|cancelled|opted_out|deferred
	)

	WebhookItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgengine_webhook_items_total",
			Help: "Webhook payload items by kind and outcome",
		},
		[]string{"kind", "outcome"}, // inbound|status , processed|duplicate|ignored
	)

	AutoRepliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgengine_auto_replies_total",
			Help: "Auto-responses enqueued by trigger type",
		},
		[]string{"trigger"},
	)

	RateLimitDeferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgengine_rate_limit_deferred_total",
			Help: "Drain cycles cut short by an empty token bucket",
		},
		[]string{"channel"},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		MessagesTotal,
		WebhookItemsTotal,
		AutoRepliesTotal,
		RateLimitDeferredTotal,
	)
}
