// Package ingest receives events from external sources and hands them to the
// alerts service for storage and evaluation.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"alertcore/internal/config"
	"alertcore/internal/metrics"
	"alertcore/internal/model"
)

const maxBatch = 100

// EventHandler is the alerts service surface used by ingestion.
type EventHandler interface {
	AddEvents(ctx context.Context, events []*model.Event) error
	SendEvents(ctx context.Context, events []*model.Event) error
}

func SendNonBlocking(ctx context.Context, out chan<- *model.Event, ev *model.Event, logger *slog.Logger, m *metrics.Store) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		m.IncDropped(ev.TenantID)
		if logger != nil {
			logger.Warn("event channel full, dropping event", "tenant_id", ev.TenantID, "event_id", ev.ID)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Forward drains in until ctx is done, grouping whatever is already queued
// into one batch. With ingest.store_events set the batch is persisted before
// evaluation, otherwise it is only evaluated.
func Forward(ctx context.Context, in <-chan *model.Event, h EventHandler, cfg *config.Manager, logger *slog.Logger) {
	for {
		var first *model.Event
		select {
		case first = <-in:
		case <-ctx.Done():
			return
		}
		batch := append(make([]*model.Event, 0, maxBatch), first)
	drain:
		for len(batch) < maxBatch {
			select {
			case ev := <-in:
				batch = append(batch, ev)
			default:
				break drain
			}
		}
		var err error
		if cfg.Get().Ingest.StoreEvents {
			err = h.AddEvents(ctx, batch)
		} else {
			err = h.SendEvents(ctx, batch)
		}
		if err != nil && logger != nil {
			logger.Error("event batch failed", "count", len(batch), "error", err)
		}
	}
}
