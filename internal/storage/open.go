package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "remindbot/pkg/logx"
)

// Store persists the audit trail. Jobs themselves are never stored.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		st, err := openFile(cfg)
		if err == nil {
			log.Debug("audit file ready", logx.String("path", st.(*fileStore).path))
		}
		return st, err
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// prepare fills the id and timestamp of an entry about to be written.
func prepare(e AuditEntry) AuditEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.At = e.At.UTC()
	return e
}

// Append is a nil-safe helper; a nil store silently drops the entry.
func Append(ctx context.Context, s Store, e AuditEntry) error {
	if s == nil {
		return nil
	}
	return s.AppendAudit(ctx, e)
}
