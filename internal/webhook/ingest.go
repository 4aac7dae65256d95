package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/imobflow/messaging-engine/internal/autoresponder"
	"github.com/imobflow/messaging-engine/internal/config"
	"github.com/imobflow/messaging-engine/internal/conversation"
	"github.com/imobflow/messaging-engine/internal/metrics"
	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/optout"
	"github.com/imobflow/messaging-engine/internal/repository"
	"github.com/imobflow/messaging-engine/internal/util"
	"go.uber.org/zap"
)

// KeywordHandler toggles opt state on STOP/START texts.
type KeywordHandler interface {
	HandleInboundText(ctx context.Context, tenantID int64, phone, text string) (optout.Action, error)
}

// AutoResponder evaluates rules for an inbound message.
type AutoResponder interface {
	HandleInbound(ctx context.Context, ev autoresponder.Event) (string, error)
}

// Result summarizes one ingested payload.
type Result struct {
	InboundProcessed  int `json:"inbound_processed"`
	InboundDuplicates int `json:"inbound_duplicates"`
	StatusesApplied   int `json:"statuses_applied"`
	StatusesIgnored   int `json:"statuses_ignored"`
	Errors            int `json:"errors"`
}

// Ingestor turns normalized webhook payloads into engine state. Items are
// processed independently; one bad item never loses the rest of the batch.
type Ingestor struct {
	convs      *conversation.Manager
	threads    repository.ThreadRepository
	deliveries repository.DeliveryRepository
	optouts    KeywordHandler
	responder  AutoResponder // optional
	outbox     repository.OutboxRepository
	hours      config.BusinessHoursConfig

	// inbound this soon after the conversation was created counts as a
	// first contact for triggers
	firstContactWindow time.Duration

	log *zap.Logger
}

func NewIngestor(
	convs *conversation.Manager,
	threads repository.ThreadRepository,
	deliveries repository.DeliveryRepository,
	optouts KeywordHandler,
	responder AutoResponder,
	outbox repository.OutboxRepository,
	hours config.BusinessHoursConfig,
	firstContactWindow time.Duration,
	log *zap.Logger,
) *Ingestor {
	if firstContactWindow <= 0 {
		firstContactWindow = 5 * time.Minute
	}
	return &Ingestor{
		convs:              convs,
		threads:            threads,
		deliveries:         deliveries,
		optouts:            optouts,
		responder:          responder,
		outbox:             outbox,
		hours:              hours,
		firstContactWindow: firstContactWindow,
		log:                log,
	}
}

// Process ingests one payload. The returned Result is best-effort accounting;
// item-level failures are logged and counted, never fatal.
func (in *Ingestor) Process(ctx context.Context, p Payload) Result {
	var res Result
	for _, m := range p.Messages {
		in.processInbound(ctx, p, m, &res)
	}
	for _, s := range p.Statuses {
		in.processStatus(ctx, p, s, &res)
	}
	return res
}

func (in *Ingestor) processInbound(ctx context.Context, p Payload, m InboundMessage, res *Result) {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	phone := util.NormalizePhone(m.From)

	action, err := in.optouts.HandleInboundText(ctx, p.TenantID, phone, m.Text)
	if err != nil {
		in.log.Error("keyword toggle", zap.Error(err), zap.String("phone", phone))
		res.Errors++
		// the message itself still lands in the thread
	}

	conv, err := in.convs.GetOrCreate(ctx, p.TenantID, phone)
	if err != nil {
		in.log.Error("get or create conversation", zap.Error(err), zap.String("phone", phone))
		res.Errors++
		return
	}

	firstContact := ts.Sub(conv.CreatedAt) <= in.firstContactWindow

	tm := model.ThreadMessage{
		ID:                util.NewID(),
		ConversationID:    conv.ID,
		Direction:         model.DirectionInbound,
		Body:              m.Text,
		ProviderMessageID: sql.NullString{String: m.ProviderMessageID, Valid: m.ProviderMessageID != ""},
		CreatedAt:         ts,
	}
	if m.MediaURL != "" {
		tm.MediaURL = sql.NullString{String: m.MediaURL, Valid: true}
	}

	inserted, err := in.threads.InsertInbound(ctx, tm)
	if err != nil {
		in.log.Error("insert inbound thread message", zap.Error(err), zap.String("provider_message_id", m.ProviderMessageID))
		res.Errors++
		return
	}
	if !inserted {
		// redelivered webhook: the side effects already happened
		res.InboundDuplicates++
		metrics.WebhookItemsTotal.WithLabelValues("inbound", "duplicate").Inc()
		return
	}

	if err := in.convs.RecordInbound(ctx, conv.ID, ts); err != nil {
		in.log.Error("record inbound", zap.Error(err), zap.String("conversation_id", conv.ID))
		res.Errors++
	}

	in.publish(ctx, "conversation", conv.ID, model.EngineEvent{
		Type:           model.EventConversationInbound,
		TenantID:       p.TenantID,
		Channel:        p.Channel.String(),
		ConversationID: conv.ID,
		Phone:          phone,
		OccurredAt:     ts,
	})

	res.InboundProcessed++
	metrics.WebhookItemsTotal.WithLabelValues("inbound", "processed").Inc()

	// compliance keywords get the store's confirmation, not a rule reply
	if in.responder == nil || action != optout.ActionNone {
		return
	}
	ev := autoresponder.Event{
		TenantID:            p.TenantID,
		ConversationID:      conv.ID,
		Channel:             p.Channel,
		Phone:               phone,
		Text:                m.Text,
		FirstContact:        firstContact,
		WithinBusinessHours: in.hours.Within(ts),
		At:                  ts,
	}
	if _, err := in.responder.HandleInbound(ctx, ev); err != nil {
		in.log.Error("auto responder", zap.Error(err), zap.String("conversation_id", conv.ID))
		res.Errors++
	}
}

func (in *Ingestor) processStatus(ctx context.Context, p Payload, s StatusUpdate, res *Result) {
	ts := s.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	st, ok := model.ParseDeliveryStatus(s.Status)
	if !ok {
		res.StatusesIgnored++
		metrics.WebhookItemsTotal.WithLabelValues("status", "ignored").Inc()
		return
	}

	rec, err := in.deliveries.GetByProviderMessageID(ctx, s.ProviderMessageID)
	if err != nil {
		in.log.Error("delivery lookup", zap.Error(err), zap.String("provider_message_id", s.ProviderMessageID))
		res.Errors++
		return
	}
	if rec == nil {
		// receipt for a message this engine never sent
		res.StatusesIgnored++
		metrics.WebhookItemsTotal.WithLabelValues("status", "ignored").Inc()
		return
	}

	// failed lands regardless of rank, once; forward statuses only ever move
	// up the ladder. Out-of-order and duplicate receipts are no-ops.
	noop := st.Rank() <= rec.Status.Rank()
	if st == model.DeliveryFailed {
		noop = rec.Status == model.DeliveryFailed
	}
	if noop {
		res.StatusesIgnored++
		metrics.WebhookItemsTotal.WithLabelValues("status", "ignored").Inc()
		return
	}

	if err := in.deliveries.UpdateStatus(ctx, rec.ID, st, ts, s.ErrorCode, s.ErrorMessage); err != nil {
		in.log.Error("update delivery status", zap.Error(err), zap.String("id", rec.ID))
		res.Errors++
		return
	}
	if err := in.threads.AttachStatusTimestamp(ctx, s.ProviderMessageID, st, ts); err != nil {
		in.log.Error("attach status timestamp", zap.Error(err), zap.String("provider_message_id", s.ProviderMessageID))
		res.Errors++
	}

	in.publish(ctx, "message", rec.MessageID, model.EngineEvent{
		Type:       model.EventMessageStatus,
		TenantID:   rec.TenantID,
		Channel:    rec.Channel.String(),
		MessageID:  rec.MessageID,
		Status:     st.String(),
		ErrorCode:  s.ErrorCode,
		OccurredAt: ts,
	})

	res.StatusesApplied++
	metrics.WebhookItemsTotal.WithLabelValues("status", "processed").Inc()
}

func (in *Ingestor) publish(ctx context.Context, aggregate, aggregateID string, ev model.EngineEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := in.outbox.Insert(ctx, nil, aggregate, aggregateID, ev.Type, payload); err != nil {
		in.log.Warn("outbox insert", zap.Error(err), zap.String("type", ev.Type))
	}
}
