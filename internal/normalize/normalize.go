// Package normalize turns inventory host-egress reports into events.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"alertcore/internal/model"
)

const (
	HostEgressDataID = "platform.inventory.host-egress"
	CategoryReport   = "insight_report"

	fieldTenant            = "account"
	fieldInsightsID        = "insights_id"
	fieldDisplayName       = "display_name"
	fieldSystemProfile     = "system_profile"
	fieldNetworkInterfaces = "network_interfaces"
	fieldYumRepos          = "yum_repos"
	fieldName              = "name"
)

var ErrMissingTenant = errors.New("report has no account")

// HostReport is the subset of a host-egress message used to build an event.
type HostReport struct {
	Account       string         `json:"account"`
	InsightsID    string         `json:"insights_id"`
	DisplayName   string         `json:"display_name"`
	SystemProfile map[string]any `json:"system_profile"`
}

func ParseHostReport(data []byte) (*HostReport, error) {
	var r HostReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode host report: %w", err)
	}
	return &r, nil
}

// HostEgress builds the event for one report. The system profile becomes the
// event facts, with interface and repo lists keyed by their name.
func HostEgress(r *HostReport, now time.Time) (*model.Event, error) {
	tenant := strings.TrimSpace(r.Account)
	if tenant == "" {
		return nil, ErrMissingTenant
	}
	return &model.Event{
		TenantID:  tenant,
		ID:        uuid.NewString(),
		CTime:     now.UnixMilli(),
		DataID:    HostEgressDataID,
		Category:  CategoryReport,
		Text:      fmt.Sprintf("host-egress report %s for %s", r.InsightsID, r.DisplayName),
		EventType: model.EventTypeEvent,
		Tags: map[string]string{
			fieldDisplayName: r.DisplayName,
			fieldInsightsID:  r.InsightsID,
		},
		Context: map[string]string{},
		Facts:   model.FactsOf(SystemProfile(r.SystemProfile)),
	}, nil
}

// SystemProfile re-keys list fields that identify their items by name.
func SystemProfile(sp map[string]any) map[string]any {
	out := make(map[string]any, len(sp))
	for k, v := range sp {
		out[k] = v
	}
	for _, field := range []string{fieldNetworkInterfaces, fieldYumRepos} {
		if list, ok := sp[field].([]any); ok {
			out[field] = namedObjects(list)
		}
	}
	return out
}

func namedObjects(list []any) map[string]any {
	out := make(map[string]any, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := obj[fieldName].(string)
		if name == "" {
			continue
		}
		out[name] = obj
	}
	return out
}
