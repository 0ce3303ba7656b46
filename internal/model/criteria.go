package model

type AlertsCriteria struct {
	StartTime         int64      `json:"startTime,omitempty"`
	EndTime           int64      `json:"endTime,omitempty"`
	StartAckTime      int64      `json:"startAckTime,omitempty"`
	EndAckTime        int64      `json:"endAckTime,omitempty"`
	StartResolvedTime int64      `json:"startResolvedTime,omitempty"`
	EndResolvedTime   int64      `json:"endResolvedTime,omitempty"`
	StartStatusTime   int64      `json:"startStatusTime,omitempty"`
	EndStatusTime     int64      `json:"endStatusTime,omitempty"`
	AlertIDs          []string   `json:"alertIds,omitempty"`
	TriggerIDs        []string   `json:"triggerIds,omitempty"`
	Severities        []Severity `json:"severities,omitempty"`
	Statuses          []Status   `json:"statuses,omitempty"`
	TagQuery          string     `json:"tagQuery,omitempty"`
	Thin              bool       `json:"thin,omitempty"`
}

func (c *AlertsCriteria) Clone() *AlertsCriteria {
	if c == nil {
		return &AlertsCriteria{}
	}
	out := *c
	out.AlertIDs = append([]string(nil), c.AlertIDs...)
	out.TriggerIDs = append([]string(nil), c.TriggerIDs...)
	out.Severities = append([]Severity(nil), c.Severities...)
	out.Statuses = append([]Status(nil), c.Statuses...)
	return &out
}

type EventsCriteria struct {
	StartTime  int64    `json:"startTime,omitempty"`
	EndTime    int64    `json:"endTime,omitempty"`
	EventIDs   []string `json:"eventIds,omitempty"`
	TriggerIDs []string `json:"triggerIds,omitempty"`
	Categories []string `json:"categories,omitempty"`
	EventType  string   `json:"eventType,omitempty"`
	TagQuery   string   `json:"tagQuery,omitempty"`
	Thin       bool     `json:"thin,omitempty"`
}

func (c *EventsCriteria) Clone() *EventsCriteria {
	if c == nil {
		return &EventsCriteria{}
	}
	out := *c
	out.EventIDs = append([]string(nil), c.EventIDs...)
	out.TriggerIDs = append([]string(nil), c.TriggerIDs...)
	out.Categories = append([]string(nil), c.Categories...)
	return &out
}

type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

type Order struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

func (o Order) Ascending() bool { return o.Direction != Descending }

const UnlimitedPageSize = -1

type Pager struct {
	Offset   int     `json:"offset"`
	PageSize int     `json:"pageSize"`
	Order    []Order `json:"order,omitempty"`
}

func Unlimited(order ...Order) *Pager {
	return &Pager{PageSize: UnlimitedPageSize, Order: order}
}

func (p *Pager) Limited() bool {
	return p != nil && p.PageSize != UnlimitedPageSize && p.PageSize > 0
}

type Page[T any] struct {
	Items     []T    `json:"items"`
	TotalSize int    `json:"totalSize"`
	Pager     *Pager `json:"pager,omitempty"`
}
