// Package alerts manages the alert lifecycle: persisting alerts and events,
// acknowledging and resolving alerts, tags, notes and deletion.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"alertcore/internal/model"
	"alertcore/internal/query"
	"alertcore/internal/storage"
)

var ErrInvalidArgument = errors.New("invalid argument")

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
}

// Dispatcher forwards lifecycle changes to downstream actions.
type Dispatcher interface {
	Send(ctx context.Context, t *model.Trigger, a *model.Alert) error
}

type TriggerStore interface {
	GetTrigger(ctx context.Context, tenantID, triggerID string) (*model.Trigger, error)
	UpdateTrigger(ctx context.Context, tenantID string, t *model.Trigger, reload bool) error
}

// LiveTriggers is the rule engine's view of loaded triggers. Reads are not
// synchronised with resolution, so a concurrent reload may race the mode check.
type LiveTriggers interface {
	GetLoadedTrigger(t *model.Trigger) *model.Trigger
	ReloadTrigger(ctx context.Context, tenantID, triggerID string) error
}

type EventSink interface {
	SendEvents(ctx context.Context, events []*model.Event) error
}

type Service struct {
	query      *query.Engine
	backend    storage.Backend
	dispatcher Dispatcher
	triggers   TriggerStore
	live       LiveTriggers
	sink       EventSink
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(q *query.Engine, dispatcher Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		query:      q,
		backend:    q.Backend(),
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Service) SetTriggerStore(t TriggerStore) { s.triggers = t }

func (s *Service) SetLiveTriggers(l LiveTriggers) { s.live = l }

func (s *Service) SetEventSink(sink EventSink) { s.sink = sink }

func (s *Service) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *Service) storeAlert(ctx context.Context, a *model.Alert) error {
	doc, err := query.AlertDocument(a)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, doc, s.query.Retention().AlertsTTL()); err != nil {
		return fmt.Errorf("store alert %s: %w", a.ID, err)
	}
	return nil
}

func (s *Service) storeEvent(ctx context.Context, e *model.Event) error {
	doc, err := query.EventDocument(e)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, doc, s.query.Retention().EventsTTL()); err != nil {
		return fmt.Errorf("store event %s: %w", e.ID, err)
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, a *model.Alert) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Send(ctx, a.Trigger, a); err != nil && s.logger != nil {
		s.logger.Warn("action dispatch failed", "tenant_id", a.TenantID, "alert_id", a.ID, "error", err)
	}
}

// AddAlerts persists newly fired alerts. With thin alerts configured the
// evaluation evidence is dropped before storage.
func (s *Service) AddAlerts(ctx context.Context, alerts []*model.Alert) error {
	if alerts == nil {
		return invalid("alerts must not be nil")
	}
	thin := s.query.Retention().ThinAlerts
	for _, a := range alerts {
		if thin {
			a.MakeThin()
		}
		if err := s.storeAlert(ctx, a); err != nil {
			return err
		}
	}
	if s.logger != nil && len(alerts) > 0 {
		s.logger.Debug("alerts added", "count", len(alerts))
	}
	return nil
}

// PersistEvents stores events without forwarding them to the rule engine.
func (s *Service) PersistEvents(ctx context.Context, events []*model.Event) error {
	if events == nil {
		return invalid("events must not be nil")
	}
	for _, e := range events {
		if err := s.storeEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// AddEvents stores events and then hands them to the rule engine.
func (s *Service) AddEvents(ctx context.Context, events []*model.Event) error {
	if err := s.PersistEvents(ctx, events); err != nil {
		return err
	}
	return s.SendEvents(ctx, events)
}

// SendEvents forwards events for evaluation only.
func (s *Service) SendEvents(ctx context.Context, events []*model.Event) error {
	if len(events) == 0 {
		return nil
	}
	if s.sink == nil {
		if s.logger != nil {
			s.logger.Debug("event sink not wired, events not evaluated", "count", len(events))
		}
		return nil
	}
	return s.sink.SendEvents(ctx, events)
}

func (s *Service) GetAlert(ctx context.Context, tenantID, alertID string, thin bool) (*model.Alert, error) {
	return s.query.GetAlert(ctx, tenantID, alertID, thin)
}

func (s *Service) GetEvent(ctx context.Context, tenantID, eventID string, thin bool) (*model.Event, error) {
	return s.query.GetEvent(ctx, tenantID, eventID, thin)
}

func (s *Service) FindAlerts(ctx context.Context, tenantIDs []string, criteria *model.AlertsCriteria, pager *model.Pager) (*model.Page[*model.Alert], error) {
	return s.query.FindAlerts(ctx, tenantIDs, criteria, pager)
}

func (s *Service) FindEvents(ctx context.Context, tenantIDs []string, criteria *model.EventsCriteria, pager *model.Pager) (*model.Page[*model.Event], error) {
	return s.query.FindEvents(ctx, tenantIDs, criteria, pager)
}

// alertsByID loads the alerts with the given ids in the order the ids were passed.
func (s *Service) alertsByID(ctx context.Context, tenantID string, alertIDs []string) ([]*model.Alert, error) {
	page, err := s.query.FindAlerts(ctx, []string{tenantID}, &model.AlertsCriteria{AlertIDs: alertIDs}, nil)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Alert, len(page.Items))
	for _, a := range page.Items {
		byID[a.ID] = a
	}
	out := make([]*model.Alert, 0, len(page.Items))
	for _, id := range alertIDs {
		if a, ok := byID[id]; ok {
			out = append(out, a)
			delete(byID, id)
		}
	}
	return out, nil
}

// eventsByID loads plain events only; alerts are mutated through their own operations.
func (s *Service) eventsByID(ctx context.Context, tenantID string, eventIDs []string) ([]*model.Event, error) {
	criteria := &model.EventsCriteria{EventIDs: eventIDs, EventType: string(model.EventTypeEvent)}
	page, err := s.query.FindEvents(ctx, []string{tenantID}, criteria, nil)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}
