package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ushopls/marketplace/internal/outbox"
)

type Publisher interface {
	Publish(ctx context.Context, event *outbox.Event) error
}

// Relay moves committed outbox events onto the topic.
type Relay struct {
	source    outbox.Source
	publisher Publisher
	interval  time.Duration
	batchSize int
	log       *zap.Logger
}

func NewRelay(source outbox.Source, publisher Publisher, interval time.Duration, log *zap.Logger) *Relay {
	return &Relay{
		source:    source,
		publisher: publisher,
		interval:  interval,
		batchSize: 100,
		log:       log.Named("relay"),
	}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("relay batch", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// RelayOnce publishes one batch in creation order and stops at the first
// failure, so a later event never overtakes an earlier one.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	events, err := r.source.ListUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range events {
		if err := r.publisher.Publish(ctx, event); err != nil {
			return published, err
		}
		if err := r.source.MarkPublished(ctx, event.ID); err != nil {
			return published, err
		}
		published++
		r.log.Debug("event published",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.EventType),
			zap.String("aggregate_id", event.AggregateID),
		)
	}
	return published, nil
}
