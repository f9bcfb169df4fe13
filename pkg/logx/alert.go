package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "remindbot/internal/transport"
)

const (
	alertQueue      = 256
	alertMaxRunes   = 3500
	alertFieldRunes = 600
	alertSendTTL    = 10 * time.Second
	// An identical alert inside this window is counted, not sent.
	alertRepeatWindow = time.Minute
)

// alertSink is a zerolog.LevelWriter that forwards selected events to a
// Telegram chat. It never blocks the logging call.
type alertSink struct {
	mu       sync.Mutex
	sender   kit.Sender
	chatID   int64
	minLevel Level
	limiter  *rate.Limiter

	lastKey  string
	lastAt   time.Time
	repeated int

	queue   chan string
	once    sync.Once
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	nowFunc func() time.Time
}

func newAlertSink(sender kit.Sender) *alertSink {
	return &alertSink{
		sender:   sender,
		minLevel: LevelWarn,
		queue:    make(chan string, alertQueue),
		nowFunc:  time.Now,
	}
}

func (a *alertSink) setSender(s kit.Sender) {
	a.mu.Lock()
	a.sender = s
	a.mu.Unlock()
}

func (a *alertSink) configure(cfg TelegramConfig) {
	a.mu.Lock()
	a.chatID = cfg.ChatID
	a.minLevel = parseLevel(cfg.MinLevel, LevelWarn)
	rps := max(1, cfg.RatePerSec)
	if a.limiter == nil || a.limiter.Limit() != rate.Limit(rps) {
		a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
	a.mu.Unlock()

	if cfg.Enabled {
		a.once.Do(a.start)
	}
}

func (a *alertSink) start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case text := <-a.queue:
				a.send(ctx, text)
			}
		}
	}()
}

func (a *alertSink) send(ctx context.Context, text string) {
	a.mu.Lock()
	sender, chatID := a.sender, a.chatID
	a.mu.Unlock()
	if sender == nil || chatID == 0 {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, alertSendTTL)
	defer cancel()
	_, _ = sender.SendText(sctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
}

func (a *alertSink) stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		a.wg.Wait()
	}
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(LevelInfo, p) }

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if text, ok := a.admit(level, p); ok {
		select {
		case a.queue <- text:
		default:
		}
	}
	return len(p), nil
}

// admit applies the level filter, repeat suppression and the rate limit, and
// renders the message when it passes.
func (a *alertSink) admit(level Level, p []byte) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.chatID == 0 || level < a.minLevel {
		return "", false
	}

	ev := decodeEvent(p)
	key := level.String() + "|" + ev.message + "|" + ev.caller
	now := a.nowFunc()
	if key == a.lastKey && now.Sub(a.lastAt) < alertRepeatWindow {
		a.repeated++
		return "", false
	}
	if a.limiter == nil || !a.limiter.Allow() {
		return "", false
	}
	text := renderAlert(level, ev)
	if a.repeated > 0 {
		text += fmt.Sprintf("\n(previous alert repeated %d more times)", a.repeated)
	}
	a.lastKey, a.lastAt, a.repeated = key, now, 0
	return clip(text, alertMaxRunes), true
}

type alertEvent struct {
	message string
	caller  string
	fields  map[string]any
	raw     string
}

func decodeEvent(p []byte) alertEvent {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return alertEvent{message: raw, raw: raw}
	}
	ev := alertEvent{fields: m}
	ev.message, _ = m[zerolog.MessageFieldName].(string)
	ev.caller, _ = m[zerolog.CallerFieldName].(string)
	for _, k := range []string{zerolog.MessageFieldName, zerolog.LevelFieldName, zerolog.TimestampFieldName} {
		delete(m, k)
	}
	return ev
}

func renderAlert(level Level, ev alertEvent) string {
	if ev.fields == nil {
		return ev.raw
	}
	icon := "ℹ️"
	switch {
	case level >= LevelError:
		icon = "🛑"
	case level == LevelWarn:
		icon = "⚠️"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s", icon, strings.ToUpper(level.String()), ev.message)
	keys := make([]string, 0, len(ev.fields))
	for k := range ev.fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n• %s: %s", k, clip(fmt.Sprint(ev.fields[k]), alertFieldRunes))
	}
	return b.String()
}

// clip shortens s to at most n runes, marking the cut with "…".
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
