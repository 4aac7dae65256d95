package repository

import (
	"context"
	"database/sql"

	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

type TemplatesRepository interface {
	GetByName(ctx context.Context, tenantID int64, name string) (*model.Template, error)
	IncrementUsage(ctx context.Context, tenantID int64, name string) error
}

type TemplatesRepositoryImpl struct {
	db *sqlx.DB
}

func NewTemplatesRepository(db *sqlx.DB) *TemplatesRepositoryImpl {
	return &TemplatesRepositoryImpl{db: db}
}

var _ TemplatesRepository = (*TemplatesRepositoryImpl)(nil)

func (r *TemplatesRepositoryImpl) GetByName(ctx context.Context, tenantID int64, name string) (*model.Template, error) {
	var t model.Template
	err := r.db.GetContext(ctx, &t, `
		SELECT * FROM templates WHERE tenant_id = ? AND name = ? LIMIT 1
	`, tenantID, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TemplatesRepositoryImpl) IncrementUsage(ctx context.Context, tenantID int64, name string) error {
	const q = `UPDATE templates SET usage_count = usage_count + 1, updated_at = NOW() WHERE tenant_id = ? AND name = ?`
	_, err := r.db.ExecContext(ctx, q, tenantID, name)
	return err
}
