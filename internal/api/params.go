package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"alertcore/internal/model"
)

func csv(r *http.Request, name string) []string {
	var out []string
	for _, v := range strings.Split(r.URL.Query().Get(name), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// idsParam prefers the single id in the route over the list parameter.
func idsParam(r *http.Request, urlParam, listParam string) []string {
	if id := chi.URLParam(r, urlParam); id != "" {
		return []string{id}
	}
	return csv(r, listParam)
}

func boolParam(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest(name + " must be an integer")
	}
	return n, nil
}

func millisParam(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, badRequest(name + " must be epoch millis")
	}
	return n, nil
}

// tagsParam parses tags=name1|value1,name2|value2.
func tagsParam(r *http.Request) (map[string]string, error) {
	pairs := csv(r, "tags")
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "|")
		if !ok || name == "" {
			return nil, badRequest("tags must be name|value pairs: " + p)
		}
		tags[name] = value
	}
	return tags, nil
}

func timeRange(r *http.Request, fields map[string]*int64) error {
	for name, dst := range fields {
		v, err := millisParam(r, name)
		if err != nil {
			return err
		}
		*dst = v
	}
	return nil
}

func alertsCriteria(r *http.Request) (*model.AlertsCriteria, error) {
	c := &model.AlertsCriteria{
		AlertIDs:   csv(r, "alertIds"),
		TriggerIDs: csv(r, "triggerIds"),
		TagQuery:   r.URL.Query().Get("tagQuery"),
		Thin:       boolParam(r, "thin"),
	}
	err := timeRange(r, map[string]*int64{
		"startTime":         &c.StartTime,
		"endTime":           &c.EndTime,
		"startAckTime":      &c.StartAckTime,
		"endAckTime":        &c.EndAckTime,
		"startResolvedTime": &c.StartResolvedTime,
		"endResolvedTime":   &c.EndResolvedTime,
		"startStatusTime":   &c.StartStatusTime,
		"endStatusTime":     &c.EndStatusTime,
	})
	if err != nil {
		return nil, err
	}
	for _, v := range csv(r, "severities") {
		sev := model.Severity(strings.ToUpper(v))
		if sev.Rank() == 0 {
			return nil, badRequest("unknown severity " + v)
		}
		c.Severities = append(c.Severities, sev)
	}
	for _, v := range csv(r, "statuses") {
		st := model.Status(strings.ToUpper(v))
		if st.Rank() == 0 {
			return nil, badRequest("unknown status " + v)
		}
		c.Statuses = append(c.Statuses, st)
	}
	return c, nil
}

func eventsCriteria(r *http.Request) (*model.EventsCriteria, error) {
	c := &model.EventsCriteria{
		EventIDs:   csv(r, "eventIds"),
		TriggerIDs: csv(r, "triggerIds"),
		Categories: csv(r, "categories"),
		EventType:  r.URL.Query().Get("eventType"),
		TagQuery:   r.URL.Query().Get("tagQuery"),
		Thin:       boolParam(r, "thin"),
	}
	err := timeRange(r, map[string]*int64{
		"startTime": &c.StartTime,
		"endTime":   &c.EndTime,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// pagerOf reads page, per_page, sort and order. Without per_page every match
// is returned; sort and order are parallel comma separated lists.
func pagerOf(r *http.Request) (*model.Pager, error) {
	page, err := intParam(r, "page", 0)
	if err != nil {
		return nil, err
	}
	perPage, err := intParam(r, "per_page", model.UnlimitedPageSize)
	if err != nil {
		return nil, err
	}
	if page < 0 {
		return nil, badRequest("page must be >= 0")
	}
	fields := csv(r, "sort")
	dirs := csv(r, "order")
	orders := make([]model.Order, 0, len(fields))
	for i, f := range fields {
		dir := model.Ascending
		if i < len(dirs) && strings.EqualFold(dirs[i], "desc") {
			dir = model.Descending
		}
		orders = append(orders, model.Order{Field: f, Direction: dir})
	}
	if perPage <= 0 {
		return model.Unlimited(orders...), nil
	}
	return &model.Pager{Offset: page * perPage, PageSize: perPage, Order: orders}, nil
}
