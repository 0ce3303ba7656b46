// Package actions notifies downstream systems about alert lifecycle changes.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"alertcore/internal/config"
	"alertcore/internal/model"
)

// Message is the payload published for every lifecycle change.
type Message struct {
	TenantID    string         `json:"tenantId"`
	TriggerID   string         `json:"triggerId"`
	TriggerName string         `json:"triggerName,omitempty"`
	AlertID     string         `json:"alertId"`
	Status      model.Status   `json:"status"`
	Severity    model.Severity `json:"severity"`
	STime       int64          `json:"stime"`
	Alert       *model.Alert   `json:"alert"`
}

func NewMessage(t *model.Trigger, a *model.Alert) Message {
	m := Message{
		TenantID:  a.TenantID,
		TriggerID: a.TriggerID,
		AlertID:   a.ID,
		Status:    a.Status,
		Severity:  a.Severity,
		STime:     a.STime(),
		Alert:     a,
	}
	if t != nil {
		m.TriggerName = t.Name
	}
	return m
}

// LogDispatcher writes each notification to the log.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d LogDispatcher) Send(_ context.Context, t *model.Trigger, a *model.Alert) error {
	if d.Logger == nil || a == nil {
		return nil
	}
	m := NewMessage(t, a)
	d.Logger.Info("alert action",
		"tenant_id", m.TenantID,
		"trigger_id", m.TriggerID,
		"alert_id", m.AlertID,
		"status", m.Status,
		"severity", m.Severity,
	)
	return nil
}

// Publisher is the subset of a NATS connection used for dispatch.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type NATSDispatcher struct {
	conn    *nats.Conn
	pub     Publisher
	subject string
}

func NewNATSDispatcher(cfg config.NATSConfig) (*NATSDispatcher, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("alertcore"))
	if err != nil {
		return nil, err
	}
	return &NATSDispatcher{conn: conn, pub: conn, subject: cfg.Subject}, nil
}

// NewPublisherDispatcher dispatches through an existing publisher.
func NewPublisherDispatcher(pub Publisher, subject string) *NATSDispatcher {
	return &NATSDispatcher{pub: pub, subject: subject}
}

// Send publishes to "<subject>.<tenantId>".
func (d *NATSDispatcher) Send(_ context.Context, t *model.Trigger, a *model.Alert) error {
	if a == nil {
		return errors.New("nil alert")
	}
	data, err := json.Marshal(NewMessage(t, a))
	if err != nil {
		return err
	}
	return d.pub.Publish(d.subject+"."+a.TenantID, data)
}

func (d *NATSDispatcher) Close() {
	if d.conn != nil {
		_ = d.conn.Drain()
		d.conn.Close()
	}
}

// Multi sends to every dispatcher and returns the joined errors.
type Multi []interface {
	Send(ctx context.Context, t *model.Trigger, a *model.Alert) error
}

func (m Multi) Send(ctx context.Context, t *model.Trigger, a *model.Alert) error {
	var errs []error
	for _, d := range m {
		if err := d.Send(ctx, t, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
