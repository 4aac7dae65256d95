package webhook

import (
	"time"

	"github.com/imobflow/messaging-engine/internal/model"
)

// Payload is a provider-neutral webhook batch. Channel adapters in the HTTP
// layer translate each provider's envelope into this shape before ingestion.
type Payload struct {
	TenantID int64            `json:"tenant_id"`
	Channel  model.Channel    `json:"channel"`
	Messages []InboundMessage `json:"messages,omitempty"`
	Statuses []StatusUpdate   `json:"statuses,omitempty"`
}

// InboundMessage is one message from an end user. ProviderMessageID is the
// idempotency key: redelivered webhooks carry the same id.
type InboundMessage struct {
	ProviderMessageID string    `json:"provider_message_id"`
	From              string    `json:"from"`
	Text              string    `json:"text"`
	MediaURL          string    `json:"media_url,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// StatusUpdate is a delivery receipt for an outbound message.
type StatusUpdate struct {
	ProviderMessageID string    `json:"provider_message_id"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	ErrorCode         string    `json:"error_code,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
}
