package autoresponder

import (
	"context"
	"fmt"

	"github.com/imobflow/messaging-engine/internal/metrics"
	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/queue"
	"github.com/imobflow/messaging-engine/internal/repository"
	"go.uber.org/zap"
)

// Enqueuer is the slice of the queue service the responder needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

// Responder evaluates a tenant's rules against one inbound message and
// enqueues at most one reply. Rules are evaluated in descending priority; the
// first match wins and evaluation stops.
type Responder struct {
	rules    repository.RulesRepository
	enqueuer Enqueuer
	log      *zap.Logger
}

func New(rules repository.RulesRepository, enqueuer Enqueuer, log *zap.Logger) *Responder {
	return &Responder{rules: rules, enqueuer: enqueuer, log: log}
}

// HandleInbound returns the id of the enqueued reply, or "" when no rule
// matched. A rule with an unknown trigger type is logged and skipped, never
// treated as a match.
func (r *Responder) HandleInbound(ctx context.Context, ev Event) (string, error) {
	rules, err := r.rules.ListActiveByTenant(ctx, ev.TenantID)
	if err != nil {
		return "", fmt.Errorf("list rules: %w", err)
	}

	for _, rule := range rules {
		trigger, err := triggerFor(rule)
		if err != nil {
			r.log.Warn("skipping rule", zap.Error(err), zap.Int64("rule_id", rule.ID))
			continue
		}
		if rule.BusinessHoursOnly && !ev.WithinBusinessHours {
			continue
		}
		if !trigger.Matches(ev) {
			continue
		}

		id, err := r.reply(ctx, rule, ev)
		if err != nil {
			return "", fmt.Errorf("enqueue auto reply for rule %d: %w", rule.ID, err)
		}

		metrics.AutoRepliesTotal.WithLabelValues(rule.TriggerType.String()).Inc()
		r.log.Info("auto reply enqueued",
			zap.Int64("tenant_id", ev.TenantID),
			zap.Int64("rule_id", rule.ID),
			zap.String("trigger", rule.TriggerType.String()),
			zap.String("message_id", id),
		)
		return id, nil
	}

	return "", nil
}

func (r *Responder) reply(ctx context.Context, rule model.AutoResponseRule, ev Event) (string, error) {
	req := queue.EnqueueRequest{
		TenantID:       ev.TenantID,
		Channel:        ev.Channel,
		Phone:          ev.Phone,
		Priority:       model.PriorityHigh,
		RuleID:         rule.ID,
		ConversationID: ev.ConversationID,
	}
	if rule.TemplateName.Valid {
		req.TemplateName = rule.TemplateName.String
	} else {
		req.Body = rule.ResponseBody
	}
	return r.enqueuer.Enqueue(ctx, req)
}
