package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"alertcore/internal/config"
	"alertcore/internal/metrics"
	"alertcore/internal/model"
	"alertcore/internal/normalize"
)

// StartKafka consumes host-egress reports and queues one event per report.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- *model.Event, m *metrics.Store, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			ev, err := eventFromMessage(msg.Value, time.Now())
			if err != nil {
				if logger != nil {
					logger.Warn("kafka message skipped", "offset", msg.Offset, "err", err)
				}
				continue
			}
			SendNonBlocking(ctx, out, ev, logger, m)
		}
	}()
}

func eventFromMessage(value []byte, now time.Time) (*model.Event, error) {
	report, err := normalize.ParseHostReport(value)
	if err != nil {
		return nil, err
	}
	return normalize.HostEgress(report, now)
}
