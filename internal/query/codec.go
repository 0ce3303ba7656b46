package query

import (
	"encoding/json"
	"fmt"

	"alertcore/internal/model"
	"alertcore/internal/storage"
)

func AlertDocument(a *model.Alert) (storage.Document, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return storage.Document{}, fmt.Errorf("encode alert %s: %w", a.ID, err)
	}
	return storage.Document{
		Key:       storage.Key(a.TenantID, a.ID),
		Kind:      storage.KindAlert,
		TenantID:  a.TenantID,
		ID:        a.ID,
		TriggerID: a.TriggerID,
		Category:  a.Category,
		Severity:  string(a.Severity),
		Status:    string(a.Status),
		EventType: string(model.EventTypeAlert),
		CTime:     a.CTime,
		STime:     a.STime(),
		Tags:      a.Tags,
		Body:      body,
	}, nil
}

func EventDocument(e *model.Event) (storage.Document, error) {
	if e.EventType == "" {
		e.EventType = model.EventTypeEvent
	}
	body, err := json.Marshal(e)
	if err != nil {
		return storage.Document{}, fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return storage.Document{
		Key:       storage.Key(e.TenantID, e.ID),
		Kind:      storage.KindEvent,
		TenantID:  e.TenantID,
		ID:        e.ID,
		TriggerID: e.TriggerID,
		Category:  e.Category,
		EventType: string(e.EventType),
		CTime:     e.CTime,
		STime:     e.CTime,
		Tags:      e.Tags,
		Body:      body,
	}, nil
}

func DecodeAlert(doc storage.Document) (*model.Alert, error) {
	var a model.Alert
	if err := json.Unmarshal(doc.Body, &a); err != nil {
		return nil, fmt.Errorf("decode alert %s: %w", doc.Key, err)
	}
	return &a, nil
}

// DecodeEvent reads any record as an event; alert-only fields are dropped.
func DecodeEvent(doc storage.Document) (*model.Event, error) {
	var e model.Event
	if err := json.Unmarshal(doc.Body, &e); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", doc.Key, err)
	}
	return &e, nil
}
