package alerts

import (
	"context"

	"alertcore/internal/model"
)

const (
	defaultResolvedBy    = "unknown"
	defaultResolvedNotes = "none"
)

var unresolved = []model.Status{model.StatusOpen, model.StatusAcknowledged}

// Acknowledge moves the given alerts to ACKNOWLEDGED. A note is recorded only
// when ackBy is set. Resolved alerts are left untouched.
func (s *Service) Acknowledge(ctx context.Context, tenantID string, alertIDs []string, ackBy, ackNotes string) error {
	if tenantID == "" {
		return invalid("tenantId must not be empty")
	}
	if len(alertIDs) == 0 {
		return nil
	}
	alerts, err := s.alertsByID(ctx, tenantID, alertIDs)
	if err != nil {
		return err
	}
	now := s.nowMillis()
	for _, a := range alerts {
		if a.Status == model.StatusResolved {
			continue
		}
		a.AddLifecycle(model.StatusAcknowledged, ackBy, now, transitionNotes(ackBy, ackNotes, now)...)
		if err := s.storeAlert(ctx, a); err != nil {
			return err
		}
		s.dispatch(ctx, a)
	}
	return nil
}

// Resolve moves the given alerts to RESOLVED and then applies the resolve
// options of every trigger involved, once all of its alerts are resolved.
func (s *Service) Resolve(ctx context.Context, tenantID string, alertIDs []string, resolvedBy, resolvedNotes string, resolvedEvalSets [][]model.ConditionEval) error {
	if tenantID == "" {
		return invalid("tenantId must not be empty")
	}
	if len(alertIDs) == 0 {
		return nil
	}
	if resolvedBy == "" {
		resolvedBy = defaultResolvedBy
	}
	if resolvedNotes == "" {
		resolvedNotes = defaultResolvedNotes
	}
	alerts, err := s.alertsByID(ctx, tenantID, alertIDs)
	if err != nil {
		return err
	}
	now := s.nowMillis()
	var triggerIDs []string
	seen := make(map[string]bool)
	for _, a := range alerts {
		if a.TriggerID != "" && !seen[a.TriggerID] {
			seen[a.TriggerID] = true
			triggerIDs = append(triggerIDs, a.TriggerID)
		}
		if a.Status == model.StatusResolved {
			continue
		}
		s.resolveOne(a, resolvedBy, resolvedNotes, resolvedEvalSets, now)
		if err := s.storeAlert(ctx, a); err != nil {
			return err
		}
		s.dispatch(ctx, a)
	}
	for _, triggerID := range triggerIDs {
		s.handleResolveOptions(ctx, tenantID, triggerID, true)
	}
	return nil
}

// ResolveForTrigger resolves every open or acknowledged alert of a trigger and
// applies its resolve options unconditionally.
func (s *Service) ResolveForTrigger(ctx context.Context, tenantID, triggerID, resolvedBy, resolvedNotes string, resolvedEvalSets [][]model.ConditionEval) error {
	if tenantID == "" {
		return invalid("tenantId must not be empty")
	}
	if triggerID == "" {
		return invalid("triggerId must not be empty")
	}
	criteria := &model.AlertsCriteria{TriggerIDs: []string{triggerID}, Statuses: unresolved}
	page, err := s.query.FindAlerts(ctx, []string{tenantID}, criteria, nil)
	if err != nil {
		return err
	}
	now := s.nowMillis()
	for _, a := range page.Items {
		a.ResolvedEvalSets = resolvedEvalSets
		a.AddLifecycle(model.StatusResolved, resolvedBy, now, transitionNotes(resolvedBy, resolvedNotes, now)...)
		if err := s.storeAlert(ctx, a); err != nil {
			return err
		}
		s.dispatch(ctx, a)
	}
	s.handleResolveOptions(ctx, tenantID, triggerID, false)
	return nil
}

func (s *Service) resolveOne(a *model.Alert, by, notes string, evalSets [][]model.ConditionEval, now int64) {
	a.ResolvedEvalSets = evalSets
	a.AddLifecycle(model.StatusResolved, by, now, model.Note{User: by, CTime: now, Text: notes})
}

// transitionNotes is empty when no user is named.
func transitionNotes(user, text string, now int64) []model.Note {
	if user == "" {
		return nil
	}
	return []model.Note{{User: user, CTime: now, Text: text}}
}

// handleResolveOptions re-arms a trigger after its alerts are resolved.
// autoEnable persists the trigger enabled, which reloads it; otherwise
// autoResolve reloads it explicitly, unless the loaded trigger already fires.
// Failures are logged and never returned.
func (s *Service) handleResolveOptions(ctx context.Context, tenantID, triggerID string, checkAllResolved bool) {
	if s.triggers == nil || s.live == nil {
		s.debug("resolve options skipped, trigger collaborators not wired", tenantID, triggerID)
		return
	}
	trigger, err := s.triggers.GetTrigger(ctx, tenantID, triggerID)
	if err != nil {
		s.logError("resolve options: get trigger", tenantID, triggerID, err)
		return
	}
	if trigger == nil {
		s.debug("resolve options skipped, trigger not found", tenantID, triggerID)
		return
	}
	setEnabled := trigger.AutoEnable && !trigger.Enabled
	setFiring := trigger.AutoResolve
	if setFiring {
		if loaded := s.live.GetLoadedTrigger(trigger); loaded != nil && loaded.Mode == model.ModeFiring {
			s.debug("resolve options: loaded trigger already firing", tenantID, triggerID)
			setFiring = false
		}
	}
	if !setEnabled && !setFiring {
		return
	}
	if checkAllResolved {
		criteria := &model.AlertsCriteria{TriggerIDs: []string{triggerID}, Statuses: unresolved, Thin: true}
		page, err := s.query.FindAlerts(ctx, []string{tenantID}, criteria, &model.Pager{PageSize: 1})
		if err != nil {
			s.logError("resolve options: check unresolved", tenantID, triggerID, err)
			return
		}
		if page.TotalSize > 0 {
			s.debug("resolve options skipped, trigger has unresolved alerts", tenantID, triggerID)
			return
		}
	}
	if setEnabled {
		updated := trigger.Clone()
		updated.Enabled = true
		if err := s.triggers.UpdateTrigger(ctx, tenantID, updated, true); err != nil {
			s.logError("resolve options: enable trigger", tenantID, triggerID, err)
		}
		return
	}
	if err := s.live.ReloadTrigger(ctx, tenantID, triggerID); err != nil {
		s.logError("resolve options: reload trigger", tenantID, triggerID, err)
	}
}

func (s *Service) debug(msg, tenantID, triggerID string) {
	if s.logger != nil {
		s.logger.Debug(msg, "tenant_id", tenantID, "trigger_id", triggerID)
	}
}

func (s *Service) logError(msg, tenantID, triggerID string, err error) {
	if s.logger != nil {
		s.logger.Error(msg, "tenant_id", tenantID, "trigger_id", triggerID, "error", err)
	}
}
