package model

import (
	"database/sql"
	"time"
)

// OutboxEvent is a pending row in the outbox table, relayed to Kafka by the
// outbox worker so CRM consumers can follow engine state changes.
type OutboxEvent struct {
	ID          int64        `db:"id"`
	Aggregate   string       `db:"aggregate"`    // e.g. "message", "conversation"
	AggregateID string       `db:"aggregate_id"` // owning row id
	Topic       string       `db:"topic"`
	Payload     []byte       `db:"payload"`
	Attempts    int          `db:"attempts"`
	PublishedAt sql.NullTime `db:"published_at"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

// Event types carried on the events topic.
const (
	EventMessageQueued       = "message.queued"
	EventMessageSent         = "message.sent"
	EventMessageFailed       = "message.failed"
	EventMessageStatus       = "message.status"
	EventConversationInbound = "conversation.inbound"
)

// EngineEvent is the payload published for each outbox row.
type EngineEvent struct {
	Type           string    `json:"type"`
	TenantID       int64     `json:"tenant_id"`
	Channel        string    `json:"channel,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Status         string    `json:"status,omitempty"`
	ErrorCode      string    `json:"error_code,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
