package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"alertcore/internal/config"
	"alertcore/internal/predicate"
)

// Redis stores each record as a JSON string with a native TTL and indexes keys
// per tenant in a sorted set scored by ctime. Filters are evaluated in process.
type Redis struct {
	cfg    config.RedisConfig
	client *redis.Client
}

func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "alertcore:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	return &Redis{cfg: cfg, client: client}, nil
}

func (r *Redis) docKey(key string) string { return r.cfg.Prefix + "doc:" + key }

func (r *Redis) tenantIndex(tenantID string) string { return r.cfg.Prefix + "idx:" + tenantID }

func (r *Redis) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) put(ctx context.Context, c redis.Cmdable, doc Document, ttl time.Duration) error {
	doc.ExpiresAt = expiresAt(ttl)
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := c.Set(ctx, r.docKey(doc.Key), data, ttl).Err(); err != nil {
		return err
	}
	return c.ZAdd(ctx, r.tenantIndex(doc.TenantID), redis.Z{Score: float64(doc.CTime), Member: doc.Key}).Err()
}

func (r *Redis) Put(ctx context.Context, doc Document, ttl time.Duration) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return r.put(ctx, pipe, doc, ttl)
	})
	return err
}

func (r *Redis) Get(ctx context.Context, key string) (*Document, error) {
	data, err := r.client.Get(ctx, r.docKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &doc, nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	doc, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.docKey(key))
		pipe.ZRem(ctx, r.tenantIndex(doc.TenantID), key)
		return nil
	})
	return err
}

// tenantsOf extracts the tenant scope from a filter of the form And(In(tenantId), ...).
func tenantsOf(n predicate.Node) []string {
	switch p := n.(type) {
	case predicate.In:
		if p.Field == predicate.FieldTenantID {
			return p.Values
		}
	case predicate.And:
		for _, c := range p.Nodes {
			if t := tenantsOf(c); t != nil {
				return t
			}
		}
	}
	return nil
}

func (r *Redis) indexKeys(ctx context.Context, filter predicate.Node) ([]string, error) {
	if tenants := tenantsOf(filter); tenants != nil {
		keys := make([]string, 0, len(tenants))
		for _, t := range tenants {
			keys = append(keys, r.tenantIndex(t))
		}
		return keys, nil
	}
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, r.cfg.Prefix+"idx:*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (r *Redis) Search(ctx context.Context, q Query) ([]Document, int, error) {
	indexes, err := r.indexKeys(ctx, q.Filter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Document, 0)
	for _, idx := range indexes {
		members, err := r.client.ZRange(ctx, idx, 0, -1).Result()
		if err != nil {
			return nil, 0, err
		}
		if len(members) == 0 {
			continue
		}
		docKeys := make([]string, len(members))
		for i, m := range members {
			docKeys[i] = r.docKey(m)
		}
		values, err := r.client.MGet(ctx, docKeys...).Result()
		if err != nil {
			return nil, 0, err
		}
		var stale []any
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				stale = append(stale, members[i])
				continue
			}
			var doc Document
			if err := json.Unmarshal([]byte(s), &doc); err != nil {
				return nil, 0, fmt.Errorf("decode %s: %w", members[i], err)
			}
			if predicate.Eval(q.Filter, &doc) {
				out = append(out, doc)
			}
		}
		if len(stale) > 0 {
			_ = r.client.ZRem(ctx, idx, stale...).Err()
		}
	}
	sortDocuments(out, q.SortBy, q.Desc)
	total := len(out)
	return page(out, q.Offset, q.Limit), total, nil
}

// Purge drops index entries whose records Redis has already expired.
func (r *Redis) Purge(ctx context.Context) (int, error) {
	indexes, err := r.indexKeys(ctx, nil)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, idx := range indexes {
		members, err := r.client.ZRange(ctx, idx, 0, -1).Result()
		if err != nil {
			return n, err
		}
		for _, m := range members {
			exists, err := r.client.Exists(ctx, r.docKey(m)).Result()
			if err != nil {
				return n, err
			}
			if exists == 0 {
				if err := r.client.ZRem(ctx, idx, m).Err(); err != nil {
					return n, err
				}
				n++
			}
		}
	}
	return n, nil
}

func (r *Redis) BeginBatch(context.Context) (Batch, error) {
	return &redisBatch{r: r}, nil
}

// redisBatch queues writes and applies them in one MULTI/EXEC on Commit.
type redisBatch struct {
	r   *Redis
	ops []func(ctx context.Context, pipe redis.Pipeliner) error
}

func (b *redisBatch) Put(_ context.Context, doc Document, ttl time.Duration) error {
	b.ops = append(b.ops, func(ctx context.Context, pipe redis.Pipeliner) error {
		return b.r.put(ctx, pipe, doc, ttl)
	})
	return nil
}

func (b *redisBatch) Remove(ctx context.Context, key string) error {
	doc, err := b.r.Get(ctx, key)
	if err != nil {
		return err
	}
	b.ops = append(b.ops, func(ctx context.Context, pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.r.docKey(key))
		pipe.ZRem(ctx, b.r.tenantIndex(doc.TenantID), key)
		return nil
	})
	return nil
}

func (b *redisBatch) Commit() error {
	if len(b.ops) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.r.cfg.Timeout)
	defer cancel()
	ops := b.ops
	b.ops = nil
	_, err := b.r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range ops {
			if err := op(ctx, pipe); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

func (b *redisBatch) Rollback() error {
	b.ops = nil
	return nil
}
