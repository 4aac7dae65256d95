package repository

import (
	"context"
	"database/sql"

	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

type OptOutRepository interface {
	Get(ctx context.Context, tenantID int64, phone string) (*model.OptOutEntry, error)
	// Upsert is last-writer-wins on the (tenant, phone) key.
	Upsert(ctx context.Context, e model.OptOutEntry) error
}

type OptOutRepositoryImpl struct {
	db *sqlx.DB
}

func NewOptOutRepository(db *sqlx.DB) *OptOutRepositoryImpl {
	return &OptOutRepositoryImpl{db: db}
}

var _ OptOutRepository = (*OptOutRepositoryImpl)(nil)

func (r *OptOutRepositoryImpl) Get(ctx context.Context, tenantID int64, phone string) (*model.OptOutEntry, error) {
	var e model.OptOutEntry
	err := r.db.GetContext(ctx, &e, `
		SELECT * FROM opt_outs WHERE tenant_id = ? AND phone = ? LIMIT 1
	`, tenantID, phone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *OptOutRepositoryImpl) Upsert(ctx context.Context, e model.OptOutEntry) error {
	const q = `
		INSERT INTO opt_outs
		    (tenant_id, phone, opted_in, reason, source, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
		    opted_in   = VALUES(opted_in),
		    reason     = VALUES(reason),
		    source     = VALUES(source),
		    updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, q, e.TenantID, e.Phone, e.OptedIn, e.Reason, e.Source)
	return err
}
