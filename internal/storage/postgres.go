package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func NewPostgres(dsn string) (Backend, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/alertcore?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{baseStore: baseStore{db: db}, d: postgresDialect}, nil
}
