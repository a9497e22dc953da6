package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"turnero/turno-service/internal/hub"
	"turnero/turno-service/internal/store"
)

const consumerName = "realtime"

// Publisher drains committed outbox rows into the hub. Tickets are
// authoritative in the store; this loop only makes observers aware, so
// a failed cycle is logged and retried on the next tick.
type Publisher struct {
	source    store.OutboxSource
	hub       *hub.Hub
	interval  time.Duration
	batchSize int
	retention time.Duration
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	Retention time.Duration
}

func NewPublisher(source store.OutboxSource, h *hub.Hub, cfg Config) *Publisher {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = time.Hour
	}
	return &Publisher{
		source:    source,
		hub:       h,
		interval:  interval,
		batchSize: batch,
		retention: retention,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycleCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := p.PublishOnce(cycleCtx); err != nil {
				log.Printf("broadcast publish error: %v", err)
			}
			cancel()
		}
	}
}

// PublishOnce pushes one batch of outbox events to connected observers
// and advances the persisted offset past them.
func (p *Publisher) PublishOnce(ctx context.Context) error {
	offset, err := p.source.GetOffset(ctx, consumerName)
	if err != nil {
		return err
	}

	events, err := p.source.ListOutboxEvents(ctx, offset, p.batchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		env := hub.Envelope{Type: event.Type, Payload: event.Payload, CreatedAt: event.CreatedAt}
		frame, err := json.Marshal(env)
		if err != nil {
			log.Printf("broadcast marshal error event=%s: %v", event.EventID, err)
			continue
		}
		p.hub.Broadcast(frame, hub.ClinicIDFromPayload(event.Payload))
		offset.LastEventTime = event.CreatedAt
		offset.LastEventID = event.EventID
	}

	if err := p.source.UpdateOffset(ctx, consumerName, offset); err != nil {
		return err
	}
	return p.source.CleanupOutbox(ctx, offset.LastEventTime.Add(-p.retention))
}
