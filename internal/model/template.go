package model

import "time"

type TemplateStatus string

const (
	TemplatePending  TemplateStatus = "pending"
	TemplateApproved TemplateStatus = "approved"
	TemplateRejected TemplateStatus = "rejected"
)

func (s TemplateStatus) String() string { return string(s) }

func (s TemplateStatus) Valid() bool {
	return s == TemplatePending || s == TemplateApproved || s == TemplateRejected
}

// Template is a reusable message body with {{variable}} placeholders.
// Only approved templates may be used for outbound sends.
type Template struct {
	ID           int64          `db:"id"`
	TenantID     int64          `db:"tenant_id"`
	Name         string         `db:"name"`
	Body         string         `db:"body"`
	RequiredVars StringList     `db:"required_vars"`
	Category     string         `db:"category"`
	Status       TemplateStatus `db:"status"`
	UsageCount   int64          `db:"usage_count"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}
