// Package query runs criteria searches over stored alerts and events.
//
// Orderings the storage can apply natively (identifier or creation time) are
// pushed down together with paging. Any other ordering fetches the complete
// filtered set, sorts it in memory and pages afterwards.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"alertcore/internal/config"
	"alertcore/internal/model"
	"alertcore/internal/predicate"
	"alertcore/internal/storage"
	"alertcore/internal/tagquery"
)

var ErrInvalidArgument = errors.New("invalid argument")

type Engine struct {
	backend   storage.Backend
	retention atomic.Value
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(backend storage.Backend, retention config.RetentionConfig, logger *slog.Logger) *Engine {
	e := &Engine{backend: backend, logger: logger, now: time.Now}
	e.retention.Store(retention)
	return e
}

func (e *Engine) UpdateRetention(r config.RetentionConfig) {
	e.retention.Store(r)
}

func (e *Engine) Retention() config.RetentionConfig {
	return e.retention.Load().(config.RetentionConfig)
}

func (e *Engine) Backend() storage.Backend {
	return e.backend
}

// floor returns the oldest ctime still retained for hours of retention, or 0 when unlimited.
func (e *Engine) floor(hours int) int64 {
	if hours <= 0 {
		return 0
	}
	return e.now().Add(-time.Duration(hours) * time.Hour).UnixMilli()
}

func clampStart(start, floor int64) int64 {
	if floor > start {
		return floor
	}
	return start
}

func tenantFilter(tenantIDs []string) (predicate.Node, error) {
	var ids []string
	for _, t := range tenantIDs {
		if t != "" {
			ids = append(ids, t)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: tenantIds must not be empty", ErrInvalidArgument)
	}
	return predicate.In{Field: predicate.FieldTenantID, Values: ids}, nil
}

func in(field predicate.Field, values []string) predicate.Node {
	if len(values) == 0 {
		return nil
	}
	return predicate.In{Field: field, Values: values}
}

func toStrings[S ~string](values []S) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}

// statusWindow matches alerts currently in status whose last status change falls in [from, to].
func statusWindow(status model.Status, from, to int64) predicate.Node {
	r := predicate.Between(predicate.FieldSTime, from, to)
	if r == nil {
		return nil
	}
	return predicate.AllOf(predicate.In{Field: predicate.FieldStatus, Values: []string{string(status)}}, r)
}

// AlertsFilter compiles criteria into a storage predicate. The retention floor
// raises StartTime without modifying criteria.
func (e *Engine) AlertsFilter(tenantIDs []string, criteria *model.AlertsCriteria) (predicate.Node, error) {
	tenants, err := tenantFilter(tenantIDs)
	if err != nil {
		return nil, err
	}
	c := criteria
	if c == nil {
		c = &model.AlertsCriteria{}
	}
	tags, err := tagquery.Compile(c.TagQuery)
	if err != nil {
		return nil, err
	}
	start := clampStart(c.StartTime, e.floor(e.Retention().AlertsHours))
	return predicate.AllOf(
		predicate.In{Field: predicate.FieldKind, Values: []string{string(storage.KindAlert)}},
		tenants,
		in(predicate.FieldID, c.AlertIDs),
		in(predicate.FieldTriggerID, c.TriggerIDs),
		tags,
		predicate.Between(predicate.FieldCTime, start, c.EndTime),
		statusWindow(model.StatusResolved, c.StartResolvedTime, c.EndResolvedTime),
		statusWindow(model.StatusAcknowledged, c.StartAckTime, c.EndAckTime),
		predicate.Between(predicate.FieldSTime, c.StartStatusTime, c.EndStatusTime),
		in(predicate.FieldSeverity, toStrings(c.Severities)),
		in(predicate.FieldStatus, toStrings(c.Statuses)),
	), nil
}

func (e *Engine) EventsFilter(tenantIDs []string, criteria *model.EventsCriteria) (predicate.Node, error) {
	tenants, err := tenantFilter(tenantIDs)
	if err != nil {
		return nil, err
	}
	c := criteria
	if c == nil {
		c = &model.EventsCriteria{}
	}
	tags, err := tagquery.Compile(c.TagQuery)
	if err != nil {
		return nil, err
	}
	r := e.Retention()
	hours := mixedRetention(r.AlertsHours, r.EventsHours)
	var eventType predicate.Node
	if c.EventType != "" {
		if t, ok := model.ParseEventType(c.EventType); ok {
			eventType = predicate.In{Field: predicate.FieldEventType, Values: []string{string(t)}}
			if t == model.EventTypeAlert {
				hours = r.AlertsHours
			} else {
				hours = r.EventsHours
			}
		} else if e.logger != nil {
			e.logger.Debug("ignoring unknown event type", "event_type", c.EventType)
		}
	}
	start := clampStart(c.StartTime, e.floor(hours))
	return predicate.AllOf(
		tenants,
		in(predicate.FieldID, c.EventIDs),
		in(predicate.FieldTriggerID, c.TriggerIDs),
		in(predicate.FieldCategory, c.Categories),
		eventType,
		tags,
		predicate.Between(predicate.FieldCTime, start, c.EndTime),
	), nil
}

// mixedRetention is the longer of two retentions; unlimited wins.
func mixedRetention(a, b int) int {
	if a <= 0 || b <= 0 {
		return 0
	}
	return max(a, b)
}

// serverSideSorted reports whether the primary ordering can be pushed down to storage.
func serverSideSorted(pager *model.Pager) bool {
	if pager == nil || len(pager.Order) == 0 {
		return true
	}
	switch pager.Order[0].Field {
	case "", "id", "alertId", "eventId", "ctime":
		return true
	}
	return false
}

func pushDownQuery(filter predicate.Node, pager *model.Pager) storage.Query {
	q := storage.Query{Filter: filter}
	if pager == nil {
		return q
	}
	if len(pager.Order) > 0 && pager.Order[0].Field != "" {
		q.SortBy = storage.SortCTime
		if pager.Order[0].Field != "ctime" {
			q.SortBy = storage.SortID
		}
		q.Desc = !pager.Order[0].Ascending()
	}
	q.Offset = max(pager.Offset, 0)
	if pager.Limited() {
		q.Limit = pager.PageSize
	}
	return q
}

func (e *Engine) FindAlerts(ctx context.Context, tenantIDs []string, criteria *model.AlertsCriteria, pager *model.Pager) (*model.Page[*model.Alert], error) {
	filter, err := e.AlertsFilter(tenantIDs, criteria)
	if err != nil {
		return nil, err
	}
	thin := criteria != nil && criteria.Thin
	decode := func(doc storage.Document) (*model.Alert, error) {
		a, err := DecodeAlert(doc)
		if err != nil {
			return nil, err
		}
		if thin {
			a.MakeThin()
		}
		return a, nil
	}
	return find(ctx, e, filter, pager, decode, compareAlerts)
}

func (e *Engine) FindEvents(ctx context.Context, tenantIDs []string, criteria *model.EventsCriteria, pager *model.Pager) (*model.Page[*model.Event], error) {
	filter, err := e.EventsFilter(tenantIDs, criteria)
	if err != nil {
		return nil, err
	}
	thin := criteria != nil && criteria.Thin
	decode := func(doc storage.Document) (*model.Event, error) {
		ev, err := DecodeEvent(doc)
		if err != nil {
			return nil, err
		}
		if thin {
			ev.MakeThin()
		}
		return ev, nil
	}
	return find(ctx, e, filter, pager, decode, compareEvents)
}

func find[T any](ctx context.Context, e *Engine, filter predicate.Node, pager *model.Pager,
	decode func(storage.Document) (T, error), compare func(a, b T, field string) int) (*model.Page[T], error) {
	if serverSideSorted(pager) {
		return pushDown(ctx, e, filter, pager, decode)
	}
	return fetchAllThenSort(ctx, e, filter, pager, decode, compare)
}

func pushDown[T any](ctx context.Context, e *Engine, filter predicate.Node, pager *model.Pager,
	decode func(storage.Document) (T, error)) (*model.Page[T], error) {
	docs, total, err := e.backend.Search(ctx, pushDownQuery(filter, pager))
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	items := make([]T, 0, len(docs))
	for _, doc := range docs {
		item, err := decode(doc)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return &model.Page[T]{Items: items, TotalSize: total, Pager: pager}, nil
}

func fetchAllThenSort[T any](ctx context.Context, e *Engine, filter predicate.Node, pager *model.Pager,
	decode func(storage.Document) (T, error), compare func(a, b T, field string) int) (*model.Page[T], error) {
	docs, total, err := e.backend.Search(ctx, storage.Query{Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	items := make([]T, 0, len(docs))
	for _, doc := range docs {
		item, err := decode(doc)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	sortBy(items, pager.Order, compare)
	return &model.Page[T]{Items: pageOf(items, pager), TotalSize: total, Pager: pager}, nil
}

// GetAlert returns nil when the alert does not exist or has expired.
func (e *Engine) GetAlert(ctx context.Context, tenantID, alertID string, thin bool) (*model.Alert, error) {
	if tenantID == "" || alertID == "" {
		return nil, fmt.Errorf("%w: tenantId and alertId required", ErrInvalidArgument)
	}
	doc, err := e.backend.Get(ctx, storage.Key(tenantID, alertID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Kind != storage.KindAlert {
		return nil, nil
	}
	a, err := DecodeAlert(*doc)
	if err != nil {
		return nil, err
	}
	if thin {
		a.MakeThin()
	}
	return a, nil
}

func (e *Engine) GetEvent(ctx context.Context, tenantID, eventID string, thin bool) (*model.Event, error) {
	if tenantID == "" || eventID == "" {
		return nil, fmt.Errorf("%w: tenantId and eventId required", ErrInvalidArgument)
	}
	doc, err := e.backend.Get(ctx, storage.Key(tenantID, eventID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ev, err := DecodeEvent(*doc)
	if err != nil {
		return nil, err
	}
	if thin {
		ev.MakeThin()
	}
	return ev, nil
}
