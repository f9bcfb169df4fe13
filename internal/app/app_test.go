package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/transcribe"
	kit "remindbot/internal/transport"
)

type fakeAdapter struct {
	mu   sync.Mutex
	out  chan<- kit.Update
	sent []string
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, fmt.Sprintf("%d|%s", to.ChatID, text))
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) FetchVoice(_ context.Context, ref kit.VoiceRef) ([]byte, error) {
	return []byte("ogg:" + ref.FileID), nil
}

func (f *fakeAdapter) push(up kit.Update) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- up
}

func (f *fakeAdapter) replies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeTranscriber struct{ text string }

func (f fakeTranscriber) Transcribe(_ context.Context, audio []byte, filename string) transcribe.Result {
	if len(audio) == 0 || filename != voiceFilename {
		return transcribe.Failed(fmt.Errorf("unexpected input %q", filename))
	}
	return transcribe.Transcribed(f.text)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{config.EnvTelegramToken, config.EnvTimezone, config.EnvHTTPAddr, config.EnvWebhookURL, config.EnvWebhookSecret} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := fmt.Sprintf(`{
  "telegram": {"token": "123:abc", "mode": "poll"},
  "http": {"addr": "127.0.0.1:0"},
  "scheduler": {"timezone": "America/Argentina/Buenos_Aires"},
  "router": {"workers": 2},
  "storage": {"driver": "file", "path": %q},
  "logging": {"level": "warn"}
}`, filepath.Join(dir, "remindbot.db"))
	p := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(p, []byte(cfg), 0o600))
	return p
}

func waitReply(t *testing.T, ad *fakeAdapter, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, r := range ad.replies() {
			if r == want {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond, "replies so far: %q", ad.replies())
}

func TestAppEndToEnd(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	ad := &fakeAdapter{}
	a, err := New(writeConfig(t, dir), WithAdapter(ad), WithTranscriber(fakeTranscriber{text: "tomar agua todos los días a las 8"}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	ad.push(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 10, Text: "reunión mañana a las 15:30"}})
	waitReply(t, ad, "10|✅ Te aviso mañana a las 15:30.")

	ad.push(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 11, Voice: &kit.VoiceRef{FileID: "v1"}}})
	waitReply(t, ad, "11|🎤 Transcribí: tomar agua todos los días a las 8\n✅ Activo recordatorio diario a las 08:00.")

	ad.push(kit.Update{Kind: kit.UpdateEdited, Message: &kit.Message{ChatID: 12, Text: "hola"}})
	waitReply(t, ad, "12|👌 Recibido. Probá: 'mañana a las 9' o 'todos los días a las 08:00'.")

	ad.push(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 0, Text: "hola"}})

	assert.Equal(t, 2, a.sched.Store().Len())

	// HTTP front end is up with status and metrics.
	resp, err := http.Get("http://" + a.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + a.Addr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "remindbot_jobs_active 2")

	// Audit rows land in the JSONL file.
	auditPath := filepath.Join(dir, "remindbot.audit.jsonl")
	require.Eventually(t, func() bool {
		return countActions(t, auditPath)[storage.ActionRegistered] == 2 &&
			countActions(t, auditPath)[storage.ActionReply] >= 3
	}, 3*time.Second, 20*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	assert.Zero(t, a.sched.Store().Len())
	assert.Len(t, ad.replies(), 3)
}

func countActions(t *testing.T, path string) map[string]int {
	t.Helper()
	out := map[string]int{}
	f, err := os.Open(path)
	if err != nil {
		return out
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e storage.AuditEntry
		if json.Unmarshal(sc.Bytes(), &e) == nil {
			out[e.Action]++
		}
	}
	return out
}

func TestVoiceDisabledAnswersFailure(t *testing.T) {
	clearEnv(t)
	ad := &fakeAdapter{}
	a, err := New(writeConfig(t, t.TempDir()), WithAdapter(ad))
	require.NoError(t, err)
	require.False(t, a.voice)

	a.handleUpdate(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 3, Voice: &kit.VoiceRef{FileID: "v"}}})
	assert.Equal(t, []string{"3|⚠️ No pude procesar el audio."}, ad.replies())
}

func TestNewRejectsMissingToken(t *testing.T) {
	clearEnv(t)
	p := filepath.Join(t.TempDir(), "c.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"telegram":{"mode":"poll"}}`), 0o600))
	_, err := New(p, WithAdapter(&fakeAdapter{}))
	assert.ErrorIs(t, err, config.ErrMissingToken)
}

func TestAuditEntryMapping(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	e, ok := auditEntry(eventbus.Event{Type: eventbus.TypeJobRegistered, Time: at, Data: scheduler.JobEvent{
		JobID: "daily-5-0800", Destination: 5, Kind: scheduler.KindDaily,
	}})
	require.True(t, ok)
	assert.Equal(t, storage.ActionRegistered, e.Action)
	assert.Equal(t, int64(5), e.ChatID)
	assert.Equal(t, "daily-5-0800", e.JobID)
	assert.Equal(t, `{"kind":"daily"}`, e.Meta)
	assert.True(t, e.OK)
	assert.Equal(t, at, e.At)

	e, ok = auditEntry(eventbus.Event{Type: eventbus.TypeJobFailed, Data: scheduler.JobEvent{
		JobID: "once-5-1", Destination: 5, Kind: scheduler.KindOnce, Took: 1500 * time.Millisecond, Err: errors.New("send failed"),
	}})
	require.True(t, ok)
	assert.Equal(t, storage.ActionFired, e.Action)
	assert.False(t, e.OK)
	assert.Equal(t, "send failed", e.Error)
	assert.Equal(t, int64(1500), e.TookMS)

	e, ok = auditEntry(eventbus.Event{Type: eventbus.TypeReplyFailed, Data: notifier.NotificationEvent{
		Kind: notifier.KindReply, ChatID: 9, Error: "blocked",
	}})
	require.True(t, ok)
	assert.Equal(t, storage.ActionReply, e.Action)
	assert.False(t, e.OK)

	_, ok = auditEntry(eventbus.Event{Type: eventbus.TypeReplySent, Data: notifier.NotificationEvent{Kind: notifier.KindReminder, ChatID: 9}})
	assert.False(t, ok)
	_, ok = auditEntry(eventbus.Event{Type: eventbus.TypeUpdateRouted, Data: "x"})
	assert.False(t, ok)
}

func TestMapStorageConfig(t *testing.T) {
	_, enabled, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, enabled)

	sc, enabled, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "FILE"}})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "./remindbot.db", sc.Path)

	sc, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite", Path: "a.db"}})
	require.NoError(t, err)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite"}})
	assert.Error(t, err)
	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "postgres"}})
	assert.Error(t, err)
	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "redis"}})
	assert.Error(t, err)
}

func TestMapHTTPConfigOnlyServesWebhookInWebhookMode(t *testing.T) {
	cfg := &config.Config{Telegram: config.TelegramConfig{Token: "x"}}
	config.ApplyDefaults(cfg)

	hc, err := mapHTTPConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultWebhookPath, hc.WebhookPath)
	assert.Equal(t, 15*time.Second, hc.ReadTimeout)

	cfg.Telegram.Mode = config.ModePoll
	cfg.HTTP.IdleTimeout = "2m"
	hc, err = mapHTTPConfig(cfg)
	require.NoError(t, err)
	assert.Empty(t, hc.WebhookPath)
	assert.Equal(t, 2*time.Minute, hc.IdleTimeout)

	tc, err := mapTelegramConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, tc.PollTimeout)
	assert.Equal(t, config.DefaultMaxVoiceBytes, int(tc.MaxVoiceBytes))
	assert.Equal(t, notifier.DefaultSendTimeout, tc.SendTimeout)

	cfg.Notifier.SendTimeout = "3"
	tc, err = mapTelegramConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, tc.SendTimeout)
}
