package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql migrations_postgres.sql
var migrationsFS embed.FS

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

var auditColumns = []string{"id", "at", "chat_id", "action", "job_id", "ok", "err", "took_ms", "meta"}

// insertAudit renders the INSERT with the dialect's placeholders.
func (d dialect) insertAudit() string {
	ph := make([]string, len(auditColumns))
	for i := range ph {
		if d == dialectPostgres {
			ph[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ph[i] = "?"
		}
	}
	return fmt.Sprintf("INSERT INTO audit (%s) VALUES (%s)", strings.Join(auditColumns, ", "), strings.Join(ph, ", "))
}

// sqlStore is the database/sql backend shared by sqlite and postgres.
type sqlStore struct {
	db         *sql.DB
	log        logx.Logger
	dialect    dialect
	migrations string
	closed     atomic.Bool
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile(s.migrations)
	if err != nil {
		return err
	}
	// Both drivers reject multi-statement Exec in some modes; run one by one.
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s.closed.Load() {
		return ErrClosed
	}
	e = prepare(e)
	// sqlite has no timestamp type; keep a sortable text form.
	var at any = e.At
	if s.dialect == dialectSQLite {
		at = e.At.Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, s.dialect.insertAudit(),
		e.ID, at, e.ChatID, e.Action, nullable(e.JobID), e.OK, nullable(e.Error), e.TookMS, nullable(e.Meta),
	)
	if err != nil {
		return fmt.Errorf("audit insert: %w", err)
	}
	return nil
}

func nullable(v string) sql.NullString {
	v = strings.TrimSpace(v)
	return sql.NullString{String: v, Valid: v != ""}
}
