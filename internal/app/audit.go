package app

import (
	"context"
	"encoding/json"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

// auditLoop persists scheduler and reply events. Reminder sends are already
// covered by the fired/failed job events.
func (a *App) auditLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e, ok := auditEntry(ev)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := storage.Append(wctx, a.store, e)
			cancel()
			if err != nil {
				a.log.Warn("audit write failed", logx.String("action", e.Action), logx.String("job_id", e.JobID), logx.Err(err))
			}
		}
	}
}

func auditEntry(ev eventbus.Event) (storage.AuditEntry, bool) {
	e := storage.AuditEntry{At: ev.Time, OK: true}
	switch d := ev.Data.(type) {
	case scheduler.JobEvent:
		switch ev.Type {
		case eventbus.TypeJobRegistered:
			e.Action = storage.ActionRegistered
		case eventbus.TypeJobReplaced:
			e.Action = storage.ActionReplaced
		case eventbus.TypeJobDuplicate:
			e.Action = storage.ActionDuplicate
		case eventbus.TypeJobCancelled:
			e.Action = storage.ActionCancelled
		case eventbus.TypeJobFired, eventbus.TypeJobFailed:
			e.Action = storage.ActionFired
			e.TookMS = d.Took.Milliseconds()
			if d.Err != nil {
				e.OK = false
				e.Error = d.Err.Error()
			}
		default:
			return e, false
		}
		e.ChatID = d.Destination
		e.JobID = d.JobID
		e.Meta = meta(map[string]string{"kind": string(d.Kind)})
	case notifier.NotificationEvent:
		if d.Kind != notifier.KindReply {
			return e, false
		}
		e.Action = storage.ActionReply
		e.ChatID = d.ChatID
		e.TookMS = d.Took.Milliseconds()
		if d.Error != "" {
			e.OK = false
			e.Error = d.Error
		}
	default:
		return e, false
	}
	return e, true
}

func meta(v map[string]string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
