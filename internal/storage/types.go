package storage

import (
	"errors"
	"time"
)

// ErrClosed is returned by AppendAudit after Close.
var ErrClosed = errors.New("storage: closed")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Audit actions.
const (
	ActionRegistered = "registered"
	ActionReplaced   = "replaced"
	ActionDuplicate  = "duplicate"
	ActionCancelled  = "cancelled"
	ActionFired      = "fired"
	ActionReply      = "reply"
)

// AuditEntry records one step in a reminder's life.
// Keep it compact and schema-stable.
type AuditEntry struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	ChatID int64     `json:"chat_id"`
	Action string    `json:"action"`
	JobID  string    `json:"job_id,omitempty"`
	OK     bool      `json:"ok"`
	Error  string    `json:"err,omitempty"`
	TookMS int64     `json:"took_ms,omitempty"`
	Meta   string    `json:"meta,omitempty"` // JSON object
}
