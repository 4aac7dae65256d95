package repository

import (
	"context"

	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

type RulesRepository interface {
	// ListActiveByTenant returns active rules ordered by priority descending,
	// the evaluation order of the auto-responder.
	ListActiveByTenant(ctx context.Context, tenantID int64) ([]model.AutoResponseRule, error)
}

type RulesRepositoryImpl struct {
	db *sqlx.DB
}

func NewRulesRepository(db *sqlx.DB) *RulesRepositoryImpl {
	return &RulesRepositoryImpl{db: db}
}

var _ RulesRepository = (*RulesRepositoryImpl)(nil)

func (r *RulesRepositoryImpl) ListActiveByTenant(ctx context.Context, tenantID int64) ([]model.AutoResponseRule, error) {
	const q = `
		SELECT * FROM auto_response_rules
		 WHERE tenant_id = ? AND active = 1
		 ORDER BY priority DESC, id ASC
	`
	var rows []model.AutoResponseRule
	if err := r.db.SelectContext(ctx, &rows, q, tenantID); err != nil {
		return nil, err
	}
	return rows, nil
}
