package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "remindbot/internal/transport"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	require.True(t, l.IsZero())
	l.Info("nothing happens", String("k", "v"))
	assert.False(t, Nop().IsZero())
	assert.False(t, Nop().Enabled(LevelError))
}

func TestWithAppendsFixedFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "scheduler"))
	l.Warn("job fired", Int64("chat_id", 42), Err(errors.New("boom")), Err(nil))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "scheduler", m["comp"])
	assert.Equal(t, float64(42), m["chat_id"])
	assert.Equal(t, "boom", m["err"])
	assert.Equal(t, "job fired", m["message"])
	assert.Contains(t, m["caller"], "logx/logging_test.go:")
}

func TestWithDoesNotShareBackingArray(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "debug").With(String("a", "1"))
	x := base.With(String("b", "x"))
	_ = base.With(String("b", "y"))
	x.Info("m")
	assert.Contains(t, buf.String(), `"b":"x"`)
}

func TestEnabledRespectsLevel(t *testing.T) {
	l := NewWriter(&bytes.Buffer{}, "warn")
	assert.False(t, l.Enabled(LevelDebug))
	assert.True(t, l.Enabled(LevelError))
}

func TestParseLevelFallback(t *testing.T) {
	assert.Equal(t, LevelWarn, parseLevel("warning", LevelInfo))
	assert.Equal(t, LevelDebug, parseLevel(" DEBUG ", LevelInfo))
	assert.Equal(t, LevelInfo, parseLevel("nonsense", LevelInfo))
	assert.Equal(t, LevelInfo, parseLevel("", LevelInfo))
}

func TestServiceFileOutputFollowsApply(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.log")
	b := filepath.Join(dir, "b.log")

	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: a}}, nil)
	log.Info("first")
	log.Debug("hidden")

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: b}})
	log.Debug("second")
	require.NoError(t, svc.Close())

	ab, err := os.ReadFile(a)
	require.NoError(t, err)
	bb, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Contains(t, string(ab), `"message":"first"`)
	assert.NotContains(t, string(ab), "hidden")
	assert.Contains(t, string(bb), `"message":"second"`)
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
	to   []int64
}

func (r *recordingSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	r.to = append(r.to, to.ChatID)
	return kit.MessageRef{}, nil
}

func (r *recordingSender) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestTelegramAlertsFilterAndDeliver(t *testing.T) {
	rec := &recordingSender{}
	svc, log := New(Config{Level: "debug", Telegram: TelegramConfig{Enabled: true, ChatID: 99, RatePerSec: 50}}, nil)
	defer svc.Close()
	svc.SetSender(rec)

	log.Info("not forwarded")
	log.Error("delivery failed", Int64("chat_id", 7), String("job_id", "once-7-1"))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := rec.snapshot()[0]
	assert.True(t, strings.HasPrefix(msg, "🛑 ERROR: delivery failed"), msg)
	assert.Contains(t, msg, "• chat_id: 7\n• job_id: once-7-1")
	assert.NotContains(t, msg, "time")
	rec.mu.Lock()
	assert.Equal(t, []int64{99}, rec.to)
	rec.mu.Unlock()
}

func TestAlertRepeatsAreFolded(t *testing.T) {
	a := newAlertSink(nil)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	a.nowFunc = func() time.Time { return now }
	a.configure(TelegramConfig{ChatID: 1, RatePerSec: 100})

	line := []byte(`{"level":"warn","message":"send failed","caller":"notifier/service.go:10"}`)
	first, ok := a.admit(LevelWarn, line)
	require.True(t, ok)
	assert.Equal(t, "⚠️ WARN: send failed\n• caller: notifier/service.go:10", first)

	for range 3 {
		_, ok = a.admit(LevelWarn, line)
		assert.False(t, ok)
	}

	now = now.Add(alertRepeatWindow)
	again, ok := a.admit(LevelWarn, line)
	require.True(t, ok)
	assert.Contains(t, again, "(previous alert repeated 3 more times)")

	_, ok = a.admit(LevelInfo, line)
	assert.False(t, ok)
}

func TestAlertPlainTextAndClip(t *testing.T) {
	assert.Equal(t, "plain line", renderAlert(LevelWarn, decodeEvent([]byte("plain line\n"))))
	assert.Equal(t, "ab…", clip("abcdef", 3))
	assert.Equal(t, "ñandú", clip("ñandú", 5))
}
