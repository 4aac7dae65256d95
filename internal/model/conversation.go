package model

import (
	"database/sql"
	"time"
)

type ConversationStatus string

const (
	ConversationActive  ConversationStatus = "active"
	ConversationWaiting ConversationStatus = "waiting"
	ConversationClosed  ConversationStatus = "closed"
)

func (s ConversationStatus) String() string { return string(s) }

func (s ConversationStatus) Valid() bool {
	return s == ConversationActive || s == ConversationWaiting || s == ConversationClosed
}

// Conversation is the per-(tenant, phone) thread head. Exactly one row exists
// per pair, enforced by a unique key.
type Conversation struct {
	ID                   string             `db:"id"`
	TenantID             int64              `db:"tenant_id"`
	Phone                string             `db:"phone"`
	Status               ConversationStatus `db:"status"`
	AssignedTo           sql.NullInt64      `db:"assigned_to"`
	UnreadCount          int                `db:"unread_count"`
	LastMessageAt        sql.NullTime       `db:"last_message_at"`
	LastMessageDirection sql.NullString     `db:"last_message_direction"`
	LeadID               sql.NullInt64      `db:"lead_id"`
	CreatedAt            time.Time          `db:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at"`
}

// ConversationStats is a derived read-only view, never persisted.
type ConversationStats struct {
	Active      int64 `db:"active" json:"active"`
	Waiting     int64 `db:"waiting" json:"waiting"`
	Closed      int64 `db:"closed" json:"closed"`
	UnreadTotal int64 `db:"unread_total" json:"unread_total"`
}
