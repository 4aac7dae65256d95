package model

import (
	"database/sql"
	"time"
)

// OptOutEntry is the compliance state for one phone number within a tenant.
// One row per (tenant, phone); last writer wins on toggling.
type OptOutEntry struct {
	TenantID  int64          `db:"tenant_id"`
	Phone     string         `db:"phone"`
	OptedIn   bool           `db:"opted_in"`
	Reason    sql.NullString `db:"reason"`
	Source    sql.NullString `db:"source"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}
