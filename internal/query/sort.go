package query

import (
	"cmp"
	"slices"
	"strings"

	"alertcore/internal/model"
)

func compareTags(a, b map[string]string, key string) int {
	va, oka := a[key]
	vb, okb := b[key]
	switch {
	case !oka && !okb:
		return 0
	case !oka:
		return -1
	case !okb:
		return 1
	}
	return strings.Compare(va, vb)
}

func compareAlerts(a, b *model.Alert, field string) int {
	switch field {
	case "alertId", "id":
		return strings.Compare(a.ID, b.ID)
	case "ctime":
		return cmp.Compare(a.CTime, b.CTime)
	case "severity":
		return cmp.Compare(a.Severity.Rank(), b.Severity.Rank())
	case "status":
		return cmp.Compare(a.Status.Rank(), b.Status.Rank())
	case "triggerId":
		return strings.Compare(a.TriggerID, b.TriggerID)
	case "stime":
		return cmp.Compare(a.STime(), b.STime())
	}
	if key, ok := strings.CutPrefix(field, "tags."); ok {
		return compareTags(a.Tags, b.Tags, key)
	}
	return 0
}

func compareEvents(a, b *model.Event, field string) int {
	switch field {
	case "id", "eventId":
		return strings.Compare(a.ID, b.ID)
	case "ctime":
		return cmp.Compare(a.CTime, b.CTime)
	case "category":
		return strings.Compare(a.Category, b.Category)
	case "text":
		return strings.Compare(a.Text, b.Text)
	case "dataId":
		return strings.Compare(a.DataID, b.DataID)
	case "triggerId":
		return strings.Compare(a.TriggerID, b.TriggerID)
	}
	if key, ok := strings.CutPrefix(field, "tags."); ok {
		return compareTags(a.Tags, b.Tags, key)
	}
	return 0
}

// sortBy orders items by each key in turn; the sort is stable so ties keep storage order.
func sortBy[T any](items []T, order []model.Order, compare func(a, b T, field string) int) {
	slices.SortStableFunc(items, func(a, b T) int {
		for _, o := range order {
			c := compare(a, b, o.Field)
			if c == 0 {
				continue
			}
			if !o.Ascending() {
				return -c
			}
			return c
		}
		return 0
	})
}

func pageOf[T any](items []T, pager *model.Pager) []T {
	if pager == nil {
		return items
	}
	offset := max(pager.Offset, 0)
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if pager.Limited() && pager.PageSize < len(items) {
		items = items[:pager.PageSize]
	}
	return items
}
