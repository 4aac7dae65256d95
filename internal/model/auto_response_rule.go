package model

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type TriggerType string

const (
	TriggerKeyword       TriggerType = "keyword"
	TriggerBusinessHours TriggerType = "business_hours"
	TriggerFirstContact  TriggerType = "first_contact"
	TriggerAllMessages   TriggerType = "all_messages"
)

func (t TriggerType) String() string { return string(t) }

func (t TriggerType) Valid() bool {
	switch t {
	case TriggerKeyword, TriggerBusinessHours, TriggerFirstContact, TriggerAllMessages:
		return true
	}
	return false
}

// StringList is a JSON-encoded string slice column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	var b []byte
	switch t := src.(type) {
	case []byte:
		b = t
	case string:
		b = []byte(t)
	default:
		return fmt.Errorf("string list: unsupported scan type %T", src)
	}
	if len(b) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(b, l)
}

// AutoResponseRule is a tenant-scoped condition/action pair, evaluated in
// descending priority order; the first match wins.
type AutoResponseRule struct {
	ID                int64          `db:"id"`
	TenantID          int64          `db:"tenant_id"`
	TriggerType       TriggerType    `db:"trigger_type"`
	Keywords          StringList     `db:"keywords"`
	ResponseBody      string         `db:"response_body"`
	TemplateName      sql.NullString `db:"template_name"`
	Priority          int            `db:"priority"`
	Active            bool           `db:"active"`
	BusinessHoursOnly bool           `db:"business_hours_only"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}
