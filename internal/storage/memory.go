package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"alertcore/internal/predicate"
)

// Memory keeps every record in process. Expired records are hidden on read and
// dropped by Purge.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

func (m *Memory) Init(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) Put(_ context.Context, doc Document, ttl time.Duration) error {
	doc.ExpiresAt = expiresAt(ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.Key] = doc
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[key]
	if !ok || doc.expired(nowMillis()) {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key]
	if !ok || doc.expired(nowMillis()) {
		return ErrNotFound
	}
	delete(m.docs, key)
	return nil
}

func (m *Memory) Search(_ context.Context, q Query) ([]Document, int, error) {
	now := nowMillis()
	m.mu.RLock()
	out := make([]Document, 0)
	for _, doc := range m.docs {
		if doc.expired(now) || !predicate.Eval(q.Filter, &doc) {
			continue
		}
		out = append(out, doc)
	}
	m.mu.RUnlock()
	sortDocuments(out, q.SortBy, q.Desc)
	total := len(out)
	return page(out, q.Offset, q.Limit), total, nil
}

func (m *Memory) Purge(context.Context) (int, error) {
	now := nowMillis()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, doc := range m.docs {
		if doc.expired(now) {
			delete(m.docs, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) BeginBatch(context.Context) (Batch, error) {
	return &memoryBatch{m: m}, nil
}

type memoryOp struct {
	doc    Document
	remove bool
}

type memoryBatch struct {
	m    *Memory
	ops  []memoryOp
	done bool
}

func (b *memoryBatch) Put(_ context.Context, doc Document, ttl time.Duration) error {
	doc.ExpiresAt = expiresAt(ttl)
	b.ops = append(b.ops, memoryOp{doc: doc})
	return nil
}

func (b *memoryBatch) Remove(ctx context.Context, key string) error {
	if _, err := b.m.Get(ctx, key); err != nil {
		return err
	}
	b.ops = append(b.ops, memoryOp{doc: Document{Key: key}, remove: true})
	return nil
}

func (b *memoryBatch) Commit() error {
	if b.done {
		return nil
	}
	b.done = true
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	for _, op := range b.ops {
		if op.remove {
			delete(b.m.docs, op.doc.Key)
			continue
		}
		b.m.docs[op.doc.Key] = op.doc
	}
	return nil
}

func (b *memoryBatch) Rollback() error {
	b.done = true
	b.ops = nil
	return nil
}

// sortDocuments orders by the native sort fields, breaking ties by key so pages are stable.
func sortDocuments(docs []Document, by SortField, desc bool) {
	if by == SortNone {
		by = SortCTime
		desc = true
	}
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		var less, equal bool
		switch by {
		case SortID:
			less, equal = a.ID < b.ID, a.ID == b.ID
		default:
			less, equal = a.CTime < b.CTime, a.CTime == b.CTime
		}
		if equal {
			return a.Key < b.Key
		}
		if desc {
			return !less
		}
		return less
	})
}

func page(docs []Document, offset, limit int) []Document {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(docs) {
		return []Document{}
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}
