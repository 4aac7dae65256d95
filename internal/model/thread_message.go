package model

import (
	"database/sql"
	"time"
)

// ThreadMessage is one item in a conversation thread. Rows are append-only;
// after a terminal delivery status the only permitted mutation is attaching
// status timestamps.
type ThreadMessage struct {
	ID                string         `db:"id"`
	ConversationID    string         `db:"conversation_id"`
	Direction         Direction      `db:"direction"`
	Body              string         `db:"body"`
	MediaURL          sql.NullString `db:"media_url"`
	ProviderMessageID sql.NullString `db:"provider_message_id"`
	DeliveredAt       sql.NullTime   `db:"delivered_at"`
	ReadAt            sql.NullTime   `db:"read_at"`
	CreatedAt         time.Time      `db:"created_at"`
}
