package model

type EventType string

const (
	EventTypeEvent EventType = "EVENT"
	EventTypeAlert EventType = "ALERT"
)

func ParseEventType(s string) (EventType, bool) {
	switch EventType(s) {
	case EventTypeEvent, EventTypeAlert:
		return EventType(s), true
	}
	return "", false
}

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

type Status string

const (
	StatusOpen         Status = "OPEN"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusResolved     Status = "RESOLVED"
)

func (s Status) Rank() int {
	switch s {
	case StatusOpen:
		return 1
	case StatusAcknowledged:
		return 2
	case StatusResolved:
		return 3
	}
	return 0
}

type Event struct {
	TenantID  string            `json:"tenantId"`
	ID        string            `json:"id"`
	CTime     int64             `json:"ctime"`
	DataID    string            `json:"dataId,omitempty"`
	Category  string            `json:"category,omitempty"`
	Text      string            `json:"text,omitempty"`
	EventType EventType         `json:"eventType"`
	TriggerID string            `json:"triggerId,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Facts     Facts             `json:"facts,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
	Trigger   *Trigger          `json:"trigger,omitempty"`
	Dampening *Dampening        `json:"dampening,omitempty"`
	EvalSets  [][]ConditionEval `json:"evalSets,omitempty"`
}

func (e *Event) AddTag(name, value string) {
	if e.Tags == nil {
		e.Tags = make(map[string]string)
	}
	e.Tags[name] = value
}

// RemoveTag reports whether the tag was present.
func (e *Event) RemoveTag(name string) bool {
	if _, ok := e.Tags[name]; !ok {
		return false
	}
	delete(e.Tags, name)
	return true
}

func (e *Event) MakeThin() {
	e.Dampening = nil
	e.EvalSets = nil
}

// LifeCycle is one status transition with the notes recorded on it.
type LifeCycle struct {
	Status Status `json:"status"`
	User   string `json:"user,omitempty"`
	STime  int64  `json:"stime"`
	Notes  []Note `json:"notes,omitempty"`
}

type Note struct {
	User  string `json:"user"`
	CTime int64  `json:"ctime"`
	Text  string `json:"text"`
}

type Alert struct {
	Event
	Severity         Severity          `json:"severity"`
	Status           Status            `json:"status"`
	LifeCycle        []LifeCycle       `json:"lifecycle,omitempty"`
	// Notes holds annotations not tied to a status change.
	Notes            []Note            `json:"notes,omitempty"`
	ResolvedEvalSets [][]ConditionEval `json:"resolvedEvalSets,omitempty"`
}

// NewAlert builds an OPEN alert for trigger t from the evidence that fired it.
func NewAlert(id string, t *Trigger, evalSets [][]ConditionEval, ctime int64) *Alert {
	a := &Alert{
		Event: Event{
			TenantID:  t.TenantID,
			ID:        id,
			CTime:     ctime,
			DataID:    t.ID,
			Category:  "ALERT",
			Text:      t.Name,
			EventType: EventTypeAlert,
			TriggerID: t.ID,
			Trigger:   t,
			EvalSets:  evalSets,
		},
		Severity: t.Severity,
	}
	if a.Severity == "" {
		a.Severity = SeverityMedium
	}
	for k, v := range t.Tags {
		a.AddTag(k, v)
	}
	if len(t.Context) > 0 {
		a.Context = make(map[string]string, len(t.Context))
		for k, v := range t.Context {
			a.Context[k] = v
		}
	}
	a.AddLifecycle(StatusOpen, "system", ctime)
	return a
}

func (a *Alert) AddLifecycle(status Status, user string, stime int64, notes ...Note) {
	a.Status = status
	a.LifeCycle = append(a.LifeCycle, LifeCycle{Status: status, User: user, STime: stime, Notes: notes})
}

func (a *Alert) AddNote(user, text string, ctime int64) {
	a.Notes = append(a.Notes, Note{User: user, CTime: ctime, Text: text})
}

// STime is the time of the most recent status change.
func (a *Alert) STime() int64 {
	if len(a.LifeCycle) == 0 {
		return a.CTime
	}
	return a.LifeCycle[len(a.LifeCycle)-1].STime
}

func (a *Alert) MakeThin() {
	a.Event.MakeThin()
	a.ResolvedEvalSets = nil
}

// Data is a single numeric sample for a dataId.
type Data struct {
	TenantID  string  `json:"tenantId"`
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}
