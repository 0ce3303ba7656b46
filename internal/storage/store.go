package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"alertcore/internal/config"
	"alertcore/internal/predicate"
)

var ErrNotFound = errors.New("record not found")

// ErrInvalidPattern reports a tag regex the backend cannot evaluate as written.
var ErrInvalidPattern = errors.New("invalid pattern")

type Kind string

const (
	KindEvent Kind = "event"
	KindAlert Kind = "alert"
)

// Document is a persisted event or alert: the indexed columns plus the JSON body.
type Document struct {
	Key       string            `json:"key"`
	Kind      Kind              `json:"kind"`
	TenantID  string            `json:"tenantId"`
	ID        string            `json:"id"`
	TriggerID string            `json:"triggerId,omitempty"`
	Category  string            `json:"category,omitempty"`
	Severity  string            `json:"severity,omitempty"`
	Status    string            `json:"status,omitempty"`
	EventType string            `json:"eventType,omitempty"`
	CTime     int64             `json:"ctime"`
	STime     int64             `json:"stime"`
	Tags      map[string]string `json:"tags,omitempty"`
	Body      json.RawMessage   `json:"body"`
	ExpiresAt int64             `json:"expiresAt,omitempty"`
}

// Key derives the primary key of a record from its tenant and id.
func Key(tenantID, id string) string {
	return tenantID + "|" + id
}

func (d *Document) Attr(f predicate.Field) string {
	switch f {
	case predicate.FieldTenantID:
		return d.TenantID
	case predicate.FieldID:
		return d.ID
	case predicate.FieldTriggerID:
		return d.TriggerID
	case predicate.FieldCategory:
		return d.Category
	case predicate.FieldSeverity:
		return d.Severity
	case predicate.FieldStatus:
		return d.Status
	case predicate.FieldEventType:
		return d.EventType
	case predicate.FieldKind:
		return string(d.Kind)
	}
	return ""
}

func (d *Document) Num(f predicate.Field) int64 {
	switch f {
	case predicate.FieldCTime:
		return d.CTime
	case predicate.FieldSTime:
		return d.STime
	}
	return 0
}

func (d *Document) Tag(key string) (string, bool) {
	v, ok := d.Tags[key]
	return v, ok
}

func (d *Document) expired(nowMs int64) bool {
	return d.ExpiresAt > 0 && d.ExpiresAt <= nowMs
}

// SortField names the orderings a backend can apply natively.
type SortField string

const (
	SortNone  SortField = ""
	SortID    SortField = "id"
	SortCTime SortField = "ctime"
)

// Query is a filtered, optionally ordered and paged search. Limit <= 0 is unlimited.
type Query struct {
	Filter predicate.Node
	SortBy SortField
	Desc   bool
	Offset int
	Limit  int
}

type Backend interface {
	Init(ctx context.Context) error
	Close() error
	// Put stores doc, replacing any record with the same key. ttl <= 0 never expires.
	Put(ctx context.Context, doc Document, ttl time.Duration) error
	Get(ctx context.Context, key string) (*Document, error)
	Remove(ctx context.Context, key string) error
	BeginBatch(ctx context.Context) (Batch, error)
	// Search returns the requested page and the number of matches ignoring paging.
	Search(ctx context.Context, q Query) ([]Document, int, error)
	// Purge drops expired records, for backends without native expiry.
	Purge(ctx context.Context) (int, error)
}

// Batch stages writes that become visible together on Commit.
type Batch interface {
	Put(ctx context.Context, doc Document, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
	Commit() error
	Rollback() error
}

func NewBackend(cfg config.StorageConfig) (Backend, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "redis":
		return NewRedis(cfg.Redis)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func expiresAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return time.Now().Add(ttl).UnixMilli()
}
