package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imobflow/messaging-engine/internal/metrics"
	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/repository"
	"github.com/imobflow/messaging-engine/internal/template"
	"github.com/imobflow/messaging-engine/internal/util"
	"github.com/jmoiron/sqlx"
)

// ErrValidation marks synchronous enqueue rejections; the request never
// enters the queue.
var ErrValidation = errors.New("validation")

// ErrNotFound is returned by Cancel for unknown or already-terminal rows.
var ErrNotFound = errors.New("message not found or terminal")

// EnqueueRequest is the contract consumed by CRM features (and by the
// auto-responder for replies).
type EnqueueRequest struct {
	TenantID     int64
	Channel      model.Channel
	Phone        string
	Body         string
	TemplateName string
	TemplateVars map[string]string
	Priority     model.Priority
	ScheduledFor *time.Time
	MaxRetries   int

	// Set only by the auto-responder.
	RuleID         int64
	ConversationID string
}

// BulkResult reports per-item outcomes of EnqueueBulk.
type BulkResult struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// defaultMaxRetries applies when neither the request nor the channel
// config sets one.
const defaultMaxRetries = 3

// Service validates and persists queued messages. Insert and outbox event
// commit in a single transaction so the CRM event stream never sees a
// message the queue does not hold.
type Service struct {
	db            *sqlx.DB
	queue         repository.QueueRepository
	outbox        repository.OutboxRepository
	renderer      *template.Renderer
	retryDefaults map[model.Channel]int
}

func New(db *sqlx.DB, queueRepo repository.QueueRepository, outboxRepo repository.OutboxRepository, renderer *template.Renderer, retryDefaults map[model.Channel]int) *Service {
	return &Service{db: db, queue: queueRepo, outbox: outboxRepo, renderer: renderer, retryDefaults: retryDefaults}
}

// inTx runs fn inside one transaction. Without a db handle the repositories
// manage their own transactions (fn receives a nil tx).
func (s *Service) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if s.db == nil {
		return fn(nil)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Service) validate(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.TenantID <= 0 {
		return "", fmt.Errorf("%w: tenant id required", ErrValidation)
	}
	if !req.Channel.Valid() {
		return "", fmt.Errorf("%w: unknown channel %q", ErrValidation, req.Channel)
	}

	phone := util.NormalizePhone(req.Phone)
	if !util.ValidE164(phone) {
		return "", fmt.Errorf("%w: phone %q is not E.164", ErrValidation, req.Phone)
	}

	hasBody := req.Body != ""
	hasTemplate := req.TemplateName != ""
	if hasBody == hasTemplate {
		return "", fmt.Errorf("%w: exactly one of body or template required", ErrValidation)
	}

	if hasTemplate {
		if err := s.renderer.Validate(ctx, req.TenantID, req.TemplateName, req.TemplateVars); err != nil {
			return "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	return phone, nil
}

// Enqueue persists a pending message and returns its id.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	phone, err := s.validate(ctx, req)
	if err != nil {
		return "", err
	}

	now := time.Now()
	scheduledFor := now
	if req.ScheduledFor != nil && req.ScheduledFor.After(now) {
		scheduledFor = *req.ScheduledFor
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.retryDefaults[req.Channel]
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	m := model.QueuedMessage{
		ID:           util.NewID(),
		TenantID:     req.TenantID,
		Channel:      req.Channel,
		Phone:        phone,
		Body:         req.Body,
		TemplateVars: req.TemplateVars,
		Priority:     req.Priority,
		ScheduledFor: scheduledFor,
		MaxRetries:   maxRetries,
		Status:       model.QueuePending,
	}
	if req.TemplateName != "" {
		m.TemplateName = sql.NullString{String: req.TemplateName, Valid: true}
	}
	if req.RuleID > 0 {
		m.RuleID = sql.NullInt64{Int64: req.RuleID, Valid: true}
	}
	if req.ConversationID != "" {
		m.ConversationID = sql.NullString{String: req.ConversationID, Valid: true}
	}

	payload, err := json.Marshal(model.EngineEvent{
		Type:       model.EventMessageQueued,
		TenantID:   m.TenantID,
		Channel:    m.Channel.String(),
		MessageID:  m.ID,
		Phone:      m.Phone,
		OccurredAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.queue.Insert(ctx, tx, m); err != nil {
			return fmt.Errorf("insert queued message: %w", err)
		}
		if err := s.outbox.Insert(ctx, tx, "message", m.ID, model.EventMessageQueued, payload); err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	metrics.MessagesTotal.WithLabelValues("queued", m.Channel.String()).Inc()
	return m.ID, nil
}

// EnqueueBulk enqueues each request independently; a bad entry never aborts
// the batch.
func (s *Service) EnqueueBulk(ctx context.Context, reqs []EnqueueRequest) []BulkResult {
	results := make([]BulkResult, 0, len(reqs))
	for i, req := range reqs {
		id, err := s.Enqueue(ctx, req)
		r := BulkResult{Index: i, ID: id}
		if err != nil {
			r.ID = ""
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

// Cancel transitions a pending/processing message to cancelled. Terminal and
// unknown rows report ErrNotFound; once a send attempt has resolved, the row
// is immutable.
func (s *Service) Cancel(ctx context.Context, id string) error {
	ok, err := s.queue.Cancel(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	m, err := s.queue.GetByID(ctx, id)
	if err == nil && m != nil {
		metrics.MessagesTotal.WithLabelValues("cancelled", m.Channel.String()).Inc()
	}
	return nil
}

// SweepRetention deletes terminal rows older than maxAge.
func (s *Service) SweepRetention(ctx context.Context, maxAge time.Duration) (int64, error) {
	return s.queue.DeleteTerminalBefore(ctx, time.Now().Add(-maxAge))
}
