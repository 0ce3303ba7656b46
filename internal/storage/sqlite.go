package storage

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	"modernc.org/sqlite"

	"alertcore/internal/predicate"
)

func init() {
	// X REGEXP Y calls regexp(Y, X). Patterns arrive already anchored.
	sqlite.MustRegisterDeterministicScalarFunction("regexp", 2, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		pattern, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("regexp: pattern must be text, got %T", args[0])
		}
		var value string
		switch v := args[1].(type) {
		case nil:
			return int64(0), nil
		case string:
			value = v
		case []byte:
			value = string(v)
		default:
			value = fmt.Sprint(v)
		}
		re, err := predicate.Compile(pattern)
		if err != nil {
			return nil, err
		}
		if re.MatchString(value) {
			return int64(1), nil
		}
		return int64(0), nil
	})
}

func NewSQLite(dsn string) (Backend, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:alertcore.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{baseStore: baseStore{db: db}, d: sqliteDialect}, nil
}
