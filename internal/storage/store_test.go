package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alertcore/internal/predicate"
	"alertcore/internal/tagquery"
)

func newSQLiteForTest(t *testing.T) Backend {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)"
	b, err := NewSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, b.Init(context.Background()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func backends(t *testing.T) map[string]Backend {
	return map[string]Backend{
		"memory": NewMemory(),
		"sqlite": newSQLiteForTest(t),
	}
}

func doc(tenant, id string, ctime int64, tags map[string]string) Document {
	return Document{
		Key:      Key(tenant, id),
		Kind:     KindAlert,
		TenantID: tenant,
		ID:       id,
		Status:   "OPEN",
		CTime:    ctime,
		STime:    ctime,
		Tags:     tags,
		Body:     []byte(fmt.Sprintf(`{"id":%q}`, id)),
	}
}

func seed(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, doc("t1", "a", 100, map[string]string{"env": "prod", "team": "a"}), 0))
	require.NoError(t, b.Put(ctx, doc("t1", "b", 200, map[string]string{"env": "dev"}), 0))
	require.NoError(t, b.Put(ctx, doc("t1", "c", 300, nil), 0))
	require.NoError(t, b.Put(ctx, doc("t2", "d", 400, map[string]string{"env": "prod"}), 0))
}

func ids(docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

func TestPutGetRemove(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, b)
			got, err := b.Get(ctx, Key("t1", "a"))
			require.NoError(t, err)
			require.Equal(t, "prod", got.Tags["env"])
			require.JSONEq(t, `{"id":"a"}`, string(got.Body))

			updated := doc("t1", "a", 100, map[string]string{"env": "qa"})
			require.NoError(t, b.Put(ctx, updated, 0))
			got, err = b.Get(ctx, Key("t1", "a"))
			require.NoError(t, err)
			require.Equal(t, "qa", got.Tags["env"])

			require.NoError(t, b.Remove(ctx, Key("t1", "a")))
			_, err = b.Get(ctx, Key("t1", "a"))
			require.True(t, errors.Is(err, ErrNotFound))
			require.True(t, errors.Is(b.Remove(ctx, Key("t1", "a")), ErrNotFound))
		})
	}
}

func TestSearchFiltersAndPages(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, b)
			tenant := predicate.In{Field: predicate.FieldTenantID, Values: []string{"t1"}}

			docs, total, err := b.Search(ctx, Query{Filter: tenant})
			require.NoError(t, err)
			require.Equal(t, 3, total)
			require.Equal(t, []string{"c", "b", "a"}, ids(docs))

			docs, total, err = b.Search(ctx, Query{Filter: tenant, SortBy: SortID, Offset: 1, Limit: 1})
			require.NoError(t, err)
			require.Equal(t, 3, total)
			require.Equal(t, []string{"b"}, ids(docs))

			docs, _, err = b.Search(ctx, Query{Filter: tenant, SortBy: SortCTime, Offset: 5})
			require.NoError(t, err)
			require.Empty(t, docs)

			ranged := predicate.AllOf(tenant, predicate.Between(predicate.FieldCTime, 150, 300))
			docs, total, err = b.Search(ctx, Query{Filter: ranged, SortBy: SortCTime})
			require.NoError(t, err)
			require.Equal(t, 2, total)
			require.Equal(t, []string{"b", "c"}, ids(docs))
		})
	}
}

func TestSearchTagQueries(t *testing.T) {
	cases := []struct {
		query string
		want  []string
	}{
		{"env", []string{"a", "b"}},
		{"not env", []string{"c"}},
		{"env = 'pr.*'", []string{"a"}},
		{"env = prod", []string{"a"}},
		{"env != 'prod'", []string{"b"}},
		{"env in ['dev', 'qa']", []string{"b"}},
		{"env not in ['dev', 'qa']", []string{"a"}},
		{"env = 'prod' and team", []string{"a"}},
		{"env = 'dev' or not env", []string{"b", "c"}},
		{"not (env = 'prod' or env = 'dev')", []string{"c"}},
	}
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, b)
			for _, tc := range cases {
				q, want := tc.query, tc.want
				tags, err := tagquery.Compile(q)
				require.NoError(t, err, q)
				filter := predicate.AllOf(predicate.In{Field: predicate.FieldTenantID, Values: []string{"t1"}}, tags)
				docs, _, err := b.Search(ctx, Query{Filter: filter, SortBy: SortID})
				require.NoError(t, err, q)
				require.Equal(t, want, ids(docs), q)
			}
		})
	}
}

func TestBatchRollback(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, b)
			batch, err := b.BeginBatch(ctx)
			require.NoError(t, err)
			require.NoError(t, batch.Remove(ctx, Key("t1", "a")))
			require.True(t, errors.Is(batch.Remove(ctx, Key("t1", "missing")), ErrNotFound))
			require.NoError(t, batch.Rollback())

			_, err = b.Get(ctx, Key("t1", "a"))
			require.NoError(t, err)

			batch, err = b.BeginBatch(ctx)
			require.NoError(t, err)
			require.NoError(t, batch.Remove(ctx, Key("t1", "a")))
			require.NoError(t, batch.Remove(ctx, Key("t1", "b")))
			require.NoError(t, batch.Commit())
			_, total, err := b.Search(ctx, Query{Filter: predicate.In{Field: predicate.FieldTenantID, Values: []string{"t1"}}})
			require.NoError(t, err)
			require.Equal(t, 1, total)
		})
	}
}

func TestExpiry(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Put(ctx, doc("t1", "old", 1, nil), time.Millisecond))
			require.NoError(t, b.Put(ctx, doc("t1", "new", 2, nil), time.Hour))
			time.Sleep(5 * time.Millisecond)

			_, err := b.Get(ctx, Key("t1", "old"))
			require.True(t, errors.Is(err, ErrNotFound))
			docs, total, err := b.Search(ctx, Query{})
			require.NoError(t, err)
			require.Equal(t, 1, total)
			require.Equal(t, []string{"new"}, ids(docs))

			n, err := b.Purge(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, n)
		})
	}
}

func TestPostgresRejectsRE2OnlyPatterns(t *testing.T) {
	for _, pattern := range []string{`\pL+`, `\P{Greek}`, `\Qa.b\E`, `abc\z`, `(?i)prod`, `(?P<env>prod)`, `(?s:.)`} {
		require.ErrorIs(t, postgresPattern(pattern), ErrInvalidPattern, pattern)
	}
	for _, pattern := range []string{`prod|dev`, `(?:web|db)-[0-9]+`, `a\.b`, `\d{2}`, `[[:alpha:]]+`, `(p)`} {
		require.NoError(t, postgresPattern(pattern), pattern)
	}

	r := &renderer{d: postgresDialect}
	_, err := r.render(predicate.TagMatches{Key: "env", Pattern: `(?i)prod`})
	require.ErrorIs(t, err, ErrInvalidPattern)

	r = &renderer{d: postgresDialect}
	where, err := r.render(predicate.TagMatches{Key: "env", Pattern: `prod|dev`})
	require.NoError(t, err)
	require.Contains(t, where, "t.value ~ $2")
	require.Equal(t, []any{"env", "^(?:prod|dev)$"}, r.args)

	r = &renderer{d: sqliteDialect}
	_, err = r.render(predicate.TagMatches{Key: "env", Pattern: `(?i)prod`})
	require.NoError(t, err)
}
