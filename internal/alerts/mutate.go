package alerts

import (
	"context"
	"fmt"

	"alertcore/internal/model"
	"alertcore/internal/storage"
)

// AddNote appends a note to an alert. A missing alert is not an error.
func (s *Service) AddNote(ctx context.Context, tenantID, alertID, user, text string) error {
	if tenantID == "" || alertID == "" {
		return invalid("tenantId and alertId must not be empty")
	}
	if user == "" || text == "" {
		return invalid("user and text must not be empty")
	}
	a, err := s.query.GetAlert(ctx, tenantID, alertID, false)
	if err != nil || a == nil {
		return err
	}
	a.AddNote(user, text, s.nowMillis())
	return s.storeAlert(ctx, a)
}

func (s *Service) AddAlertTags(ctx context.Context, tenantID string, alertIDs []string, tags map[string]string) error {
	if err := checkTagArgs(tenantID, len(alertIDs), len(tags)); err != nil {
		return err
	}
	alerts, err := s.alertsByID(ctx, tenantID, alertIDs)
	if err != nil {
		return err
	}
	for _, a := range alerts {
		for k, v := range tags {
			a.AddTag(k, v)
		}
		if err := s.storeAlert(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAlertTags drops tag keys; alerts without any of them are not rewritten.
func (s *Service) RemoveAlertTags(ctx context.Context, tenantID string, alertIDs, tags []string) error {
	if err := checkTagArgs(tenantID, len(alertIDs), len(tags)); err != nil {
		return err
	}
	alerts, err := s.alertsByID(ctx, tenantID, alertIDs)
	if err != nil {
		return err
	}
	for _, a := range alerts {
		if !removeTags(&a.Event, tags) {
			continue
		}
		if err := s.storeAlert(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) AddEventTags(ctx context.Context, tenantID string, eventIDs []string, tags map[string]string) error {
	if err := checkTagArgs(tenantID, len(eventIDs), len(tags)); err != nil {
		return err
	}
	events, err := s.eventsByID(ctx, tenantID, eventIDs)
	if err != nil {
		return err
	}
	for _, e := range events {
		for k, v := range tags {
			e.AddTag(k, v)
		}
		if err := s.storeEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) RemoveEventTags(ctx context.Context, tenantID string, eventIDs, tags []string) error {
	if err := checkTagArgs(tenantID, len(eventIDs), len(tags)); err != nil {
		return err
	}
	events, err := s.eventsByID(ctx, tenantID, eventIDs)
	if err != nil {
		return err
	}
	for _, e := range events {
		if !removeTags(e, tags) {
			continue
		}
		if err := s.storeEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func checkTagArgs(tenantID string, ids, tags int) error {
	switch {
	case tenantID == "":
		return invalid("tenantId must not be empty")
	case ids == 0:
		return invalid("ids must not be empty")
	case tags == 0:
		return invalid("tags must not be empty")
	}
	return nil
}

func removeTags(e *model.Event, tags []string) bool {
	modified := false
	for _, t := range tags {
		if e.RemoveTag(t) {
			modified = true
		}
	}
	return modified
}

// DeleteAlerts removes every alert matching criteria in one batch and returns
// the number removed. Nothing is removed if any removal fails.
func (s *Service) DeleteAlerts(ctx context.Context, tenantID string, criteria *model.AlertsCriteria) (int, error) {
	if tenantID == "" {
		return 0, invalid("tenantId must not be empty")
	}
	if criteria == nil {
		return 0, invalid("criteria must not be nil")
	}
	c := criteria.Clone()
	c.Thin = true
	page, err := s.query.FindAlerts(ctx, []string{tenantID}, c, nil)
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(page.Items))
	for _, a := range page.Items {
		keys = append(keys, storage.Key(a.TenantID, a.ID))
	}
	return s.removeAll(ctx, keys)
}

func (s *Service) DeleteEvents(ctx context.Context, tenantID string, criteria *model.EventsCriteria) (int, error) {
	if tenantID == "" {
		return 0, invalid("tenantId must not be empty")
	}
	if criteria == nil {
		return 0, invalid("criteria must not be nil")
	}
	c := criteria.Clone()
	c.Thin = true
	page, err := s.query.FindEvents(ctx, []string{tenantID}, c, nil)
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(page.Items))
	for _, e := range page.Items {
		keys = append(keys, storage.Key(e.TenantID, e.ID))
	}
	return s.removeAll(ctx, keys)
}

func (s *Service) removeAll(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	batch, err := s.backend.BeginBatch(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin batch: %w", err)
	}
	for _, k := range keys {
		if err := batch.Remove(ctx, k); err != nil {
			if rbErr := batch.Rollback(); rbErr != nil && s.logger != nil {
				s.logger.Error("batch rollback failed", "error", rbErr)
			}
			return 0, fmt.Errorf("remove %s: %w", k, err)
		}
	}
	if err := batch.Commit(); err != nil {
		_ = batch.Rollback()
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return len(keys), nil
}
