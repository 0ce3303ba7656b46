package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"alertcore/internal/predicate"
)

type dialect struct {
	name string
	// placeholder returns the bind marker for the n-th (1-based) argument.
	placeholder func(n int) string
	// regex renders a full-match test of column against a pattern argument.
	regex func(column, arg string) string
	// checkPattern rejects patterns the backend's regex engine reads differently.
	checkPattern func(pattern string) error
	limitAll     string
	bigint       string
}

var sqliteDialect = dialect{
	name:        "sqlite",
	placeholder: func(int) string { return "?" },
	regex:        func(column, arg string) string { return column + " REGEXP " + arg },
	checkPattern: func(string) error { return nil },
	limitAll:     "LIMIT -1",
	bigint:       "INTEGER",
}

// postgresDialect matches with the server's POSIX advanced regular expressions,
// not RE2. Patterns using RE2-only syntax are rejected by postgresPattern.
var postgresDialect = dialect{
	name:         "postgres",
	placeholder:  func(n int) string { return "$" + strconv.Itoa(n) },
	regex:        func(column, arg string) string { return column + " ~ " + arg },
	checkPattern: postgresPattern,
	limitAll:     "",
	bigint:       "BIGINT",
}

// postgresPattern rejects RE2 constructs that Postgres either refuses or
// matches with a different meaning: Unicode classes (\p, \P), quoted runs
// (\Q...\E), \z, \C and any (? group other than (?:, which covers inline
// flags and named captures.
func postgresPattern(pattern string) error {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			if i+1 >= len(pattern) {
				return nil
			}
			i++
			switch pattern[i] {
			case 'p', 'P', 'Q', 'E', 'z', 'C':
				return fmt.Errorf("%w: \\%c is not supported by the postgres backend", ErrInvalidPattern, pattern[i])
			}
		case '(':
			if i+1 < len(pattern) && pattern[i+1] == '?' && (i+2 >= len(pattern) || pattern[i+2] != ':') {
				return fmt.Errorf("%w: (? groups other than (?: are not supported by the postgres backend", ErrInvalidPattern)
			}
		}
	}
	return nil
}

// sqlStore keeps records in two tables: records holds the indexed columns and
// the JSON body, record_tags holds one row per tag for tag predicates.
type sqlStore struct {
	baseStore
	d dialect
}

func (s *sqlStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS records (
			pk TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			id TEXT NOT NULL,
			trigger_id TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL DEFAULT '',
			ctime %[1]s NOT NULL,
			stime %[1]s NOT NULL,
			tags_json TEXT,
			body TEXT NOT NULL,
			expires_at %[1]s NOT NULL DEFAULT 0
		)`, s.d.bigint),
		`CREATE INDEX IF NOT EXISTS idx_records_tenant_kind_ctime ON records(tenant_id, kind, ctime)`,
		`CREATE INDEX IF NOT EXISTS idx_records_trigger ON records(tenant_id, trigger_id)`,
		`CREATE INDEX IF NOT EXISTS idx_records_expires ON records(expires_at)`,
		`CREATE TABLE IF NOT EXISTS record_tags (
			pk TEXT NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (pk, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_record_tags_name_value ON record_tags(name, value)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqlStore) bind(query string) string {
	if s.d.name != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.d.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) put(ctx context.Context, ex execer, doc Document, ttl time.Duration) error {
	_, err := ex.ExecContext(ctx, s.bind(
		`INSERT INTO records (pk, kind, tenant_id, id, trigger_id, category, severity, status, event_type, ctime, stime, tags_json, body, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (pk) DO UPDATE SET
			kind = excluded.kind, tenant_id = excluded.tenant_id, id = excluded.id,
			trigger_id = excluded.trigger_id, category = excluded.category, severity = excluded.severity,
			status = excluded.status, event_type = excluded.event_type, ctime = excluded.ctime,
			stime = excluded.stime, tags_json = excluded.tags_json, body = excluded.body,
			expires_at = excluded.expires_at`),
		doc.Key,
		string(doc.Kind),
		doc.TenantID,
		doc.ID,
		doc.TriggerID,
		doc.Category,
		doc.Severity,
		doc.Status,
		doc.EventType,
		doc.CTime,
		doc.STime,
		encodeJSON(doc.Tags),
		string(doc.Body),
		expiresAt(ttl),
	)
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, s.bind(`DELETE FROM record_tags WHERE pk = ?`), doc.Key); err != nil {
		return err
	}
	for name, value := range doc.Tags {
		if _, err := ex.ExecContext(ctx, s.bind(`INSERT INTO record_tags (pk, name, value) VALUES (?, ?, ?)`),
			doc.Key, name, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) remove(ctx context.Context, ex execer, key string) error {
	res, err := ex.ExecContext(ctx, s.bind(`DELETE FROM records WHERE pk = ? AND (expires_at = 0 OR expires_at > ?)`), key, nowMillis())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	_, err = ex.ExecContext(ctx, s.bind(`DELETE FROM record_tags WHERE pk = ?`), key)
	return err
}

func (s *sqlStore) Put(ctx context.Context, doc Document, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.put(ctx, tx, doc, ttl); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) Remove(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.remove(ctx, tx, key); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

const selectColumns = `pk, kind, tenant_id, id, trigger_id, category, severity, status, event_type, ctime, stime, tags_json, body, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var kind string
	var tags sql.NullString
	var body string
	if err := row.Scan(&doc.Key, &kind, &doc.TenantID, &doc.ID, &doc.TriggerID, &doc.Category,
		&doc.Severity, &doc.Status, &doc.EventType, &doc.CTime, &doc.STime, &tags, &body, &doc.ExpiresAt); err != nil {
		return Document{}, err
	}
	doc.Kind = Kind(kind)
	doc.Body = json.RawMessage(body)
	if tags.Valid && tags.String != "" && tags.String != "null" {
		if err := json.Unmarshal([]byte(tags.String), &doc.Tags); err != nil {
			return Document{}, fmt.Errorf("decode tags of %s: %w", doc.Key, err)
		}
	}
	return doc, nil
}

func (s *sqlStore) Get(ctx context.Context, key string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT `+selectColumns+` FROM records WHERE pk = ? AND (expires_at = 0 OR expires_at > ?)`),
		key, nowMillis())
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *sqlStore) Search(ctx context.Context, q Query) ([]Document, int, error) {
	r := &renderer{d: s.d}
	where, err := r.render(q.Filter)
	if err != nil {
		return nil, 0, err
	}
	where = "(" + where + ") AND (expires_at = 0 OR expires_at > " + r.arg(nowMillis()) + ")"

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE `+where, r.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + selectColumns + ` FROM records WHERE ` + where + ` ORDER BY ` + orderClause(q.SortBy, q.Desc)
	args := append([]any(nil), r.args...)
	switch {
	case q.Limit > 0:
		query += " LIMIT " + r.arg(q.Limit) + " OFFSET " + r.arg(max(q.Offset, 0))
		args = append(args, q.Limit, max(q.Offset, 0))
	case q.Offset > 0:
		query += " " + s.d.limitAll + " OFFSET " + r.arg(q.Offset)
		args = append(args, q.Offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, doc)
	}
	return out, total, rows.Err()
}

func orderClause(by SortField, desc bool) string {
	col := "ctime"
	if by == SortID {
		col = "id"
	}
	if by == SortNone {
		desc = true
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return col + " " + dir + ", pk " + dir
}

func (s *sqlStore) Purge(ctx context.Context) (int, error) {
	now := nowMillis()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, s.bind(
		`DELETE FROM record_tags WHERE pk IN (SELECT pk FROM records WHERE expires_at > 0 AND expires_at <= ?)`), now); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	res, err := tx.ExecContext(ctx, s.bind(`DELETE FROM records WHERE expires_at > 0 AND expires_at <= ?`), now)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}

func (s *sqlStore) BeginBatch(ctx context.Context) (Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlBatch{s: s, tx: tx}, nil
}

type sqlBatch struct {
	s  *sqlStore
	tx *sql.Tx
}

func (b *sqlBatch) Put(ctx context.Context, doc Document, ttl time.Duration) error {
	return b.s.put(ctx, b.tx, doc, ttl)
}

func (b *sqlBatch) Remove(ctx context.Context, key string) error {
	return b.s.remove(ctx, b.tx, key)
}

func (b *sqlBatch) Commit() error { return b.tx.Commit() }

func (b *sqlBatch) Rollback() error {
	err := b.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// renderer turns a predicate into a WHERE clause with bound arguments.
type renderer struct {
	d    dialect
	args []any
}

func (r *renderer) arg(v any) string {
	r.args = append(r.args, v)
	return r.d.placeholder(len(r.args))
}

var fieldColumns = map[predicate.Field]string{
	predicate.FieldTenantID:  "tenant_id",
	predicate.FieldID:        "id",
	predicate.FieldTriggerID: "trigger_id",
	predicate.FieldCategory:  "category",
	predicate.FieldSeverity:  "severity",
	predicate.FieldStatus:    "status",
	predicate.FieldEventType: "event_type",
	predicate.FieldKind:      "kind",
	predicate.FieldCTime:     "ctime",
	predicate.FieldSTime:     "stime",
}

func (r *renderer) column(f predicate.Field) (string, error) {
	col, ok := fieldColumns[f]
	if !ok {
		return "", fmt.Errorf("field %q is not indexed", f)
	}
	return col, nil
}

func (r *renderer) tagExists(key, cond string) string {
	return "EXISTS (SELECT 1 FROM record_tags t WHERE t.pk = records.pk AND t.name = " + r.arg(key) + cond + ")"
}

func (r *renderer) render(n predicate.Node) (string, error) {
	switch p := n.(type) {
	case nil, predicate.True:
		return "1=1", nil
	case predicate.And:
		return r.join(p.Nodes, " AND ", "1=1")
	case predicate.Or:
		return r.join(p.Nodes, " OR ", "1=0")
	case predicate.Not:
		inner, err := r.render(p.Node)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case predicate.In:
		col, err := r.column(p.Field)
		if err != nil {
			return "", err
		}
		if len(p.Values) == 0 {
			return "1=0", nil
		}
		marks := make([]string, 0, len(p.Values))
		for _, v := range p.Values {
			marks = append(marks, r.arg(v))
		}
		return col + " IN (" + strings.Join(marks, ", ") + ")", nil
	case predicate.Range:
		col, err := r.column(p.Field)
		if err != nil {
			return "", err
		}
		var parts []string
		if p.Min != nil {
			parts = append(parts, col+" >= "+r.arg(*p.Min))
		}
		if p.Max != nil {
			parts = append(parts, col+" <= "+r.arg(*p.Max))
		}
		if len(parts) == 0 {
			return "1=1", nil
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case predicate.TagExists:
		return r.tagExists(p.Key, ""), nil
	case predicate.TagEquals:
		key := r.arg(p.Key)
		return "EXISTS (SELECT 1 FROM record_tags t WHERE t.pk = records.pk AND t.name = " + key +
			" AND t.value = " + r.arg(p.Value) + ")", nil
	case predicate.TagMatches:
		if err := r.d.checkPattern(p.Pattern); err != nil {
			return "", err
		}
		key := r.arg(p.Key)
		pattern := r.arg("^(?:" + p.Pattern + ")$")
		return "EXISTS (SELECT 1 FROM record_tags t WHERE t.pk = records.pk AND t.name = " + key +
			" AND " + r.d.regex("t.value", pattern) + ")", nil
	}
	return "", fmt.Errorf("unsupported predicate %T", n)
}

func (r *renderer) join(nodes []predicate.Node, sep, empty string) (string, error) {
	if len(nodes) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(nodes))
	for _, c := range nodes {
		s, err := r.render(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+s+")")
	}
	return strings.Join(parts, sep), nil
}
