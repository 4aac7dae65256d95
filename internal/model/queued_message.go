package model

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueSent       QueueStatus = "sent"
	QueueFailed     QueueStatus = "failed"
	QueueCancelled  QueueStatus = "cancelled"
)

func (s QueueStatus) String() string { return string(s) }

func (s QueueStatus) Valid() bool {
	switch s {
	case QueuePending, QueueProcessing, QueueSent, QueueFailed, QueueCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted.
func (s QueueStatus) Terminal() bool {
	return s == QueueSent || s == QueueFailed || s == QueueCancelled
}

type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// ParsePriority normalizes input; empty => normal.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, true
	case "", "normal":
		return PriorityNormal, true
	case "high":
		return PriorityHigh, true
	case "urgent":
		return PriorityUrgent, true
	default:
		return PriorityNormal, false
	}
}

// Vars is a JSON-encoded string map column (template variables).
type Vars map[string]string

func (v Vars) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (v *Vars) Scan(src any) error {
	if src == nil {
		*v = nil
		return nil
	}
	var b []byte
	switch t := src.(type) {
	case []byte:
		b = t
	case string:
		b = []byte(t)
	default:
		return fmt.Errorf("vars: unsupported scan type %T", src)
	}
	if len(b) == 0 {
		*v = nil
		return nil
	}
	return json.Unmarshal(b, v)
}

// QueuedMessage is a row in the queued_messages table. Status transitions are
// monotonic except pending<->processing during retry; sent/failed/cancelled
// rows are immutable.
type QueuedMessage struct {
	ID           string         `db:"id"`
	TenantID     int64          `db:"tenant_id"`
	Channel      Channel        `db:"channel"`
	Phone        string         `db:"phone"`
	Body         string         `db:"body"`
	TemplateName sql.NullString `db:"template_name"`
	TemplateVars Vars           `db:"template_vars"`
	Priority     Priority       `db:"priority"`
	ScheduledFor time.Time      `db:"scheduled_for"`
	RetryCount   int            `db:"retry_count"`
	MaxRetries   int            `db:"max_retries"`
	Status       QueueStatus    `db:"status"`
	LastError    sql.NullString `db:"last_error"`

	// Set only on auto-responses (rule that produced the reply and the
	// conversation it replies into).
	RuleID         sql.NullInt64  `db:"rule_id"`
	ConversationID sql.NullString `db:"conversation_id"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IsAutoReply reports whether the message was enqueued by the auto-responder.
func (m QueuedMessage) IsAutoReply() bool { return m.RuleID.Valid }
