package dispatcher

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/imobflow/messaging-engine/internal/conversation"
	"github.com/imobflow/messaging-engine/internal/metrics"
	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/provider"
	"github.com/imobflow/messaging-engine/internal/ratelimit"
	"github.com/imobflow/messaging-engine/internal/repository"
	"github.com/imobflow/messaging-engine/internal/template"
	"github.com/imobflow/messaging-engine/internal/util"
	"go.uber.org/zap"
)

// Reason written on messages skipped by the compliance gate.
const reasonOptedOut = "opted_out"

// OptOutChecker is the compliance gate contract. A non-nil error means the
// answer is the fail-closed default, not the registry's.
type OptOutChecker interface {
	IsOptedOut(ctx context.Context, tenantID int64, phone string) (bool, error)
}

// Config tunes one dispatcher instance (one per channel).
type Config struct {
	Channel     model.Channel
	BatchSize   int           // default 50
	BaseDelay   time.Duration // retry backoff base, default 30s
	StuckAfter  time.Duration // processing rows older than this are reclaimed, default 5m
	SendTimeout time.Duration // per-provider-call bound, default 10s
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 30 * time.Second
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 5 * time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
}

// CycleStats summarizes one drain cycle.
type CycleStats struct {
	Skipped  bool // another cycle was already running
	Selected int
	Sent     int
	Retried  int
	Failed   int
	Deferred int // left for the next cycle after the bucket ran dry
}

// Dispatcher drains the queue for one channel. RunCycle is single-flight: a
// second invocation while one is active is a silent no-op.
type Dispatcher struct {
	cfg        Config
	queue      repository.QueueRepository
	deliveries repository.DeliveryRepository
	threads    repository.ThreadRepository
	convs      *conversation.Manager
	optouts    OptOutChecker
	renderer   *template.Renderer
	templates  repository.TemplatesRepository
	client     provider.Client
	limiter    *ratelimit.TokenBucket
	outbox     repository.OutboxRepository
	log        *zap.Logger

	busy atomic.Bool
}

func New(
	cfg Config,
	queueRepo repository.QueueRepository,
	deliveryRepo repository.DeliveryRepository,
	threadRepo repository.ThreadRepository,
	convs *conversation.Manager,
	optouts OptOutChecker,
	renderer *template.Renderer,
	templates repository.TemplatesRepository,
	client provider.Client,
	limiter *ratelimit.TokenBucket,
	outboxRepo repository.OutboxRepository,
	log *zap.Logger,
) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		cfg:        cfg,
		queue:      queueRepo,
		deliveries: deliveryRepo,
		threads:    threadRepo,
		convs:      convs,
		optouts:    optouts,
		renderer:   renderer,
		templates:  templates,
		client:     client,
		limiter:    limiter,
		outbox:     outboxRepo,
		log:        log,
	}
}

// RunCycle drains one bounded batch. Messages are processed sequentially;
// the token bucket, not per-message concurrency, bounds provider throughput.
func (d *Dispatcher) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats

	if !d.busy.CompareAndSwap(false, true) {
		stats.Skipped = true
		return stats
	}
	defer d.busy.Store(false)

	now := time.Now()
	batch, err := d.queue.SelectDue(ctx, d.cfg.Channel, d.cfg.BatchSize, now.Add(-d.cfg.StuckAfter), now)
	if err != nil {
		d.log.Error("select due messages", zap.Error(err), zap.String("channel", d.cfg.Channel.String()))
		return stats
	}
	stats.Selected = len(batch)

	for i, m := range batch {
		if ctx.Err() != nil {
			stats.Deferred += len(batch) - i
			break
		}
		if !d.limiter.Allow() {
			// backpressure: the rest waits for the next cycle
			stats.Deferred += len(batch) - i
			metrics.RateLimitDeferredTotal.WithLabelValues(d.cfg.Channel.String()).Inc()
			break
		}
		d.processOne(ctx, m, &stats)
	}

	if stats.Selected > 0 {
		d.log.Info("drain cycle finished",
			zap.String("channel", d.cfg.Channel.String()),
			zap.Int("selected", stats.Selected),
			zap.Int("sent", stats.Sent),
			zap.Int("retried", stats.Retried),
			zap.Int("failed", stats.Failed),
			zap.Int("deferred", stats.Deferred),
		)
	}
	return stats
}

func (d *Dispatcher) processOne(ctx context.Context, m model.QueuedMessage, stats *CycleStats) {
	claimed, err := d.queue.MarkProcessing(ctx, m.ID, time.Now().Add(-d.cfg.StuckAfter))
	if err != nil {
		d.log.Error("mark processing", zap.Error(err), zap.String("id", m.ID))
		return
	}
	if !claimed {
		// cancelled or claimed elsewhere since the select
		return
	}

	optedOut, err := d.optouts.IsOptedOut(ctx, m.TenantID, m.Phone)
	if err != nil {
		// fail-closed: no send, but the outage is transient; retry later
		d.log.Warn("opt-out lookup failed, deferring send", zap.Error(err), zap.String("id", m.ID))
		d.retryOrFail(ctx, m, "optout_lookup_failed", err.Error(), stats)
		return
	}
	if optedOut {
		d.failTerminal(ctx, m, reasonOptedOut, "recipient opted out", stats)
		metrics.MessagesTotal.WithLabelValues(reasonOptedOut, m.Channel.String()).Inc()
		return
	}

	body := m.Body
	if m.TemplateName.Valid {
		body, err = d.renderer.Render(ctx, m.TenantID, m.TemplateName.String, m.TemplateVars)
		if err != nil {
			d.failTerminal(ctx, m, provider.CodeTemplateRejected, err.Error(), stats)
			return
		}
	}

	sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	res, err := d.client.Send(sctx, provider.SendRequest{To: m.Phone, Body: body})
	cancel()

	if err != nil {
		if provider.Retryable(err) {
			d.retryOrFail(ctx, m, provider.ErrorCode(err), err.Error(), stats)
		} else {
			d.failTerminal(ctx, m, provider.ErrorCode(err), err.Error(), stats)
		}
		return
	}

	d.recordSent(ctx, m, body, res.ProviderMessageID)
	stats.Sent++
	metrics.MessagesTotal.WithLabelValues("sent", m.Channel.String()).Inc()
}

// retryOrFail applies exponential backoff until max retries, then fails
// terminally.
func (d *Dispatcher) retryOrFail(ctx context.Context, m model.QueuedMessage, code, detail string, stats *CycleStats) {
	next := m.RetryCount + 1
	if next < m.MaxRetries {
		delay := d.cfg.BaseDelay * (1 << uint(next))
		at := time.Now().Add(delay)
		if err := d.queue.RescheduleRetry(ctx, m.ID, next, at, detail); err != nil {
			d.log.Error("reschedule retry", zap.Error(err), zap.String("id", m.ID))
			return
		}
		stats.Retried++
		metrics.MessagesTotal.WithLabelValues("retried", m.Channel.String()).Inc()
		return
	}
	d.failTerminal(ctx, m, code, detail, stats)
}

// failTerminal marks the message failed and writes the failed delivery
// record the CRM operators read the error from.
func (d *Dispatcher) failTerminal(ctx context.Context, m model.QueuedMessage, code, detail string, stats *CycleStats) {
	now := time.Now()
	if err := d.queue.MarkFailed(ctx, m.ID, code); err != nil {
		d.log.Error("mark failed", zap.Error(err), zap.String("id", m.ID))
		return
	}

	rec := model.DeliveryRecord{
		ID:           util.NewID(),
		MessageID:    m.ID,
		TenantID:     m.TenantID,
		Channel:      m.Channel,
		Direction:    model.DirectionOutbound,
		Status:       model.DeliveryFailed,
		FailedAt:     sql.NullTime{Time: now, Valid: true},
		ErrorCode:    sql.NullString{String: code, Valid: true},
		ErrorMessage: sql.NullString{String: detail, Valid: detail != ""},
	}
	if err := d.deliveries.Insert(ctx, nil, rec); err != nil {
		d.log.Error("insert failed delivery record", zap.Error(err), zap.String("id", m.ID))
	}

	d.publishEvent(ctx, model.EngineEvent{
		Type:       model.EventMessageFailed,
		TenantID:   m.TenantID,
		Channel:    m.Channel.String(),
		MessageID:  m.ID,
		Phone:      m.Phone,
		ErrorCode:  code,
		OccurredAt: now,
	})

	stats.Failed++
	metrics.MessagesTotal.WithLabelValues("failed", m.Channel.String()).Inc()
}

func (d *Dispatcher) recordSent(ctx context.Context, m model.QueuedMessage, body, providerMessageID string) {
	now := time.Now()

	rec := model.DeliveryRecord{
		ID:                util.NewID(),
		MessageID:         m.ID,
		TenantID:          m.TenantID,
		Channel:           m.Channel,
		Direction:         model.DirectionOutbound,
		ProviderMessageID: sql.NullString{String: providerMessageID, Valid: true},
		Status:            model.DeliverySent,
		SentAt:            sql.NullTime{Time: now, Valid: true},
	}
	if err := d.deliveries.Insert(ctx, nil, rec); err != nil {
		d.log.Error("insert delivery record", zap.Error(err), zap.String("id", m.ID))
	}

	if err := d.queue.MarkSent(ctx, m.ID); err != nil {
		d.log.Error("mark sent", zap.Error(err), zap.String("id", m.ID))
	}

	if m.TemplateName.Valid {
		if err := d.templates.IncrementUsage(ctx, m.TenantID, m.TemplateName.String); err != nil {
			d.log.Warn("increment template usage", zap.Error(err), zap.String("template", m.TemplateName.String))
		}
	}

	// outbound side of the conversation thread
	conv, err := d.convs.GetOrCreate(ctx, m.TenantID, m.Phone)
	if err != nil {
		d.log.Error("conversation touch after send", zap.Error(err), zap.String("id", m.ID))
	} else {
		if err := d.convs.RecordOutbound(ctx, conv.ID, now); err != nil {
			d.log.Error("record outbound", zap.Error(err), zap.String("conversation_id", conv.ID))
		}
		tm := model.ThreadMessage{
			ID:                util.NewID(),
			ConversationID:    conv.ID,
			Direction:         model.DirectionOutbound,
			Body:              body,
			ProviderMessageID: sql.NullString{String: providerMessageID, Valid: true},
			CreatedAt:         now,
		}
		if err := d.threads.InsertOutbound(ctx, tm); err != nil {
			d.log.Error("insert outbound thread message", zap.Error(err), zap.String("conversation_id", conv.ID))
		}
	}

	d.publishEvent(ctx, model.EngineEvent{
		Type:       model.EventMessageSent,
		TenantID:   m.TenantID,
		Channel:    m.Channel.String(),
		MessageID:  m.ID,
		Phone:      m.Phone,
		OccurredAt: now,
	})
}

func (d *Dispatcher) publishEvent(ctx context.Context, ev model.EngineEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := d.outbox.Insert(ctx, nil, "message", ev.MessageID, ev.Type, payload); err != nil {
		d.log.Warn("outbox insert", zap.Error(err), zap.String("type", ev.Type))
	}
}
