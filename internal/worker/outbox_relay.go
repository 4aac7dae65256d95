package worker

import (
	"context"

	"github.com/imobflow/messaging-engine/internal/repository"
	"go.uber.org/zap"
)

// Publisher is the transport side of the relay.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// OutboxRelay moves committed outbox rows to Kafka. Rows are published in id
// order and only marked published after the broker acknowledges; a crash
// between the two can reissue an event, so consumers must dedupe, but no
// event is ever lost.
type OutboxRelay struct {
	outbox    repository.OutboxRepository
	publisher Publisher
	batchSize int
	log       *zap.Logger
}

func NewOutboxRelay(outbox repository.OutboxRepository, publisher Publisher, batchSize int, log *zap.Logger) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &OutboxRelay{outbox: outbox, publisher: publisher, batchSize: batchSize, log: log}
}

func (r *OutboxRelay) Name() string { return "outbox-relay" }

// Run relays one batch. A publish failure stops the batch so ordering holds;
// the failed row's attempt counter is bumped and the next run retries it.
func (r *OutboxRelay) Run(ctx context.Context) {
	events, err := r.outbox.FetchUnpublished(ctx, r.batchSize)
	if err != nil {
		r.log.Error("fetch unpublished outbox rows", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	published := make([]int64, 0, len(events))
	for _, ev := range events {
		if err := r.publisher.Publish(ctx, ev.AggregateID, ev.Payload); err != nil {
			r.log.Error("publish outbox event", zap.Error(err), zap.Int64("id", ev.ID), zap.String("topic", ev.Topic))
			if ierr := r.outbox.IncrementAttempts(ctx, ev.ID); ierr != nil {
				r.log.Error("increment outbox attempts", zap.Error(ierr), zap.Int64("id", ev.ID))
			}
			break
		}
		published = append(published, ev.ID)
	}

	if len(published) == 0 {
		return
	}
	if err := r.outbox.MarkPublished(ctx, published); err != nil {
		r.log.Error("mark outbox rows published", zap.Error(err))
		return
	}
	r.log.Debug("outbox batch relayed", zap.Int("count", len(published)))
}
