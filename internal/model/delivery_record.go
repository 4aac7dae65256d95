package model

import (
	"database/sql"
	"strings"
	"time"
)

type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliverySent, DeliveryDelivered, DeliveryRead, DeliveryFailed:
		return true
	}
	return false
}

// Rank orders forward progress: sent < delivered < read. failed sits outside
// the ordering and is applied unconditionally by ingestion.
func (s DeliveryStatus) Rank() int {
	switch s {
	case DeliverySent:
		return 1
	case DeliveryDelivered:
		return 2
	case DeliveryRead:
		return 3
	}
	return 0
}

// ParseDeliveryStatus maps a provider callback status onto the enum.
func ParseDeliveryStatus(s string) (DeliveryStatus, bool) {
	st := DeliveryStatus(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// DeliveryRecord tracks the provider-side fate of one queued message.
// ProviderMessageID is unique once assigned.
type DeliveryRecord struct {
	ID                string         `db:"id"`
	MessageID         string         `db:"message_id"`
	TenantID          int64          `db:"tenant_id"`
	Channel           Channel        `db:"channel"`
	Direction         Direction      `db:"direction"`
	ProviderMessageID sql.NullString `db:"provider_message_id"`
	Status            DeliveryStatus `db:"status"`
	SentAt            sql.NullTime   `db:"sent_at"`
	DeliveredAt       sql.NullTime   `db:"delivered_at"`
	ReadAt            sql.NullTime   `db:"read_at"`
	FailedAt          sql.NullTime   `db:"failed_at"`
	ErrorCode         sql.NullString `db:"error_code"`
	ErrorMessage      sql.NullString `db:"error_message"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}
