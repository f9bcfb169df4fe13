// Package telegram adapts gopkg.in/telebot.v4 to the transport interfaces.
//
// In webhook mode the adapter does not listen on its own port: Handler()
// is mounted on the application's HTTP mux and decoded updates are handed to
// telebot's dispatcher. In poll mode telebot's long poller runs under the
// adapter's supervisor.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const (
	ModeWebhook = "webhook"
	ModePoll    = "poll"

	secretHeader   = "X-Telegram-Bot-Api-Secret-Token"
	maxWebhookBody = 1 << 20

	defaultSendTimeout = 10 * time.Second
)

var (
	ErrVoiceTooLarge = errors.New("voice note exceeds size limit")
	ErrNotRunning    = errors.New("telegram adapter not running")
)

type Config struct {
	Token         string
	Mode          string
	WebhookURL    string
	WebhookSecret string
	PollTimeout   time.Duration
	MaxVoiceBytes int64
	// SendTimeout bounds one outbound API call (default 10s).
	SendTimeout time.Duration
	// APIURL overrides the Bot API endpoint (local Bot API server, tests).
	APIURL string

	// Offline skips the getMe call; used by tests.
	Offline bool
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	// sink is nil while stopped; handlers read it on every update.
	sink atomic.Pointer[sink]

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor // poll loop and drop reporter; lives from Start to Stop

	// dropped counts updates the dispatch queue had no room for. It is
	// reported in batches.
	dropped atomic.Uint64
}

type sink struct{ ch chan<- kit.Update }

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeWebhook
	}
	if cfg.Mode != ModeWebhook && cfg.Mode != ModePoll {
		return nil, fmt.Errorf("telegram: unknown mode %q", cfg.Mode)
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
		// getUpdates holds the request for the poll timeout, so the client
		// must outlast it. Sends get the tighter bound in SendText.
		Client: &http.Client{Timeout: timeout + cfg.SendTimeout},
		// Handlers only forward to a channel; run them inline.
		Synchronous: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b}
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		a.forward(kit.UpdateMessage, c.Message())
		return nil
	})
	a.bot.Handle(tele.OnVoice, func(c tele.Context) error {
		a.forward(kit.UpdateMessage, c.Message())
		return nil
	})
	a.bot.Handle(tele.OnEdited, func(c tele.Context) error {
		a.forward(kit.UpdateEdited, c.Message())
		return nil
	})
}

func (a *Adapter) forward(kind kit.UpdateKind, m *tele.Message) {
	msg := toMessage(m)
	if msg == nil {
		return
	}
	a.sendUpdate(kit.Update{Kind: kind, Message: msg})
}

// toMessage keeps what routing needs. Messages without a chat, or with
// neither text nor voice, are dropped.
func toMessage(m *tele.Message) *kit.Message {
	if m == nil || m.Chat == nil {
		return nil
	}
	out := &kit.Message{ID: m.ID, ChatID: m.Chat.ID, Text: m.Text}
	if m.Sender != nil {
		out.FromID = m.Sender.ID
		out.FromUsername = m.Sender.Username
	}
	if v := m.Voice; v != nil && v.FileID != "" {
		out.Voice = &kit.VoiceRef{FileID: v.FileID, MIME: v.MIME, Size: v.FileSize, Duration: v.Duration}
		out.Text = m.Caption
	}
	if out.Voice == nil && strings.TrimSpace(out.Text) == "" {
		return nil
	}
	return out
}

// sendUpdate never blocks telebot: a full queue or a stopped adapter
// drops the update.
func (a *Adapter) sendUpdate(up kit.Update) {
	if s := a.sink.Load(); s != nil {
		select {
		case s.ch <- up:
			return
		default:
		}
	}
	a.dropped.Add(1)
}

func (a *Adapter) isRunning() bool {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.running
}

// Start begins delivering updates to out. In webhook mode it registers the
// webhook URL with Telegram when one is configured.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}

	switch a.cfg.Mode {
	case ModeWebhook:
		if u := strings.TrimSpace(a.cfg.WebhookURL); u != "" && !a.cfg.Offline {
			err := a.bot.SetWebhook(&tele.Webhook{
				Endpoint:       &tele.WebhookEndpoint{PublicURL: u},
				SecretToken:    a.cfg.WebhookSecret,
				AllowedUpdates: []string{"message", "edited_message"},
			})
			if err != nil {
				a.runMu.Unlock()
				return fmt.Errorf("telegram: set webhook: %w", err)
			}
			a.log.Info("webhook registered", logx.String("url", u))
		} else {
			a.log.Info("webhook url not set; expecting it to be registered externally")
		}
	case ModePoll:
		if !a.cfg.Offline {
			// getUpdates is refused while a webhook is set.
			if err := a.bot.RemoveWebhook(); err != nil {
				a.log.Warn("remove webhook failed", logx.Err(err))
			}
		}
	}

	a.running = true
	a.sink.Store(&sink{ch: out})
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-ticker.C:
				a.reportDropped(cap(out))
			}
		}
	})

	if a.cfg.Mode == ModePoll {
		sup.Go0("telebot.poll", func(c context.Context) {
			a.log.Info("polling started")
			stopped := make(chan struct{})
			go func() {
				defer close(stopped)
				// Start blocks until Stop() is called.
				a.bot.Start()
			}()
			<-c.Done()
			a.bot.Stop()
			<-stopped
			a.log.Info("polling stopped")
		})
	}
	return nil
}

func (a *Adapter) reportDropped(chanCap int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped", logx.Uint64("count", n), logx.Int("chan_cap", chanCap))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.sink.Store(nil)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	a.log.Info("stopping")
	if sup == nil {
		return nil
	}
	sup.Cancel()

	// A pending getUpdates long poll can outlive cancel; cap the wait.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err), logx.String("pending", strings.Join(sup.Pending(), ",")))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// Handler serves Telegram webhook POSTs. Updates are acknowledged once they
// are queued; routing happens on the app's dispatch workers.
func (a *Adapter) Handler() http.Handler {
	return http.HandlerFunc(a.serveWebhook)
}

func (a *Adapter) serveWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if secret := a.cfg.WebhookSecret; secret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}
	if !a.isRunning() {
		http.Error(w, ErrNotRunning.Error(), http.StatusServiceUnavailable)
		return
	}

	var u tele.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&u); err != nil {
		a.log.Debug("webhook decode failed", logx.Err(err))
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}
	a.bot.ProcessUpdate(u)

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"ok":true}`)
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.send(ctx, chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

type sendResult struct {
	msg *tele.Message
	err error
}

// send runs one bot.Send bounded by ctx and SendTimeout. telebot takes no
// context, so an abandoned call finishes in the background and is bounded by
// the HTTP client timeout.
func (a *Adapter) send(ctx context.Context, chat *tele.Chat, text string, opt *tele.SendOptions) (*tele.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.SendTimeout)
	defer cancel()

	done := make(chan sendResult, 1)
	go func() {
		msg, err := a.bot.Send(chat, text, opt)
		done <- sendResult{msg: msg, err: err}
	}()
	select {
	case r := <-done:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("telegram: send: %w", ctx.Err())
	}
}

// FetchVoice downloads a voice note into memory, refusing files larger than
// MaxVoiceBytes.
func (a *Adapter) FetchVoice(ctx context.Context, ref kit.VoiceRef) ([]byte, error) {
	limit := a.cfg.MaxVoiceBytes
	if limit > 0 && ref.Size > limit {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrVoiceTooLarge, ref.Size, limit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := a.bot.File(&tele.File{FileID: ref.FileID})
	if err != nil {
		return nil, fmt.Errorf("telegram: get file: %w", err)
	}
	defer rc.Close()
	// telebot's download has no context; closing the body aborts it.
	stop := context.AfterFunc(ctx, func() { _ = rc.Close() })
	defer stop()
	return readLimited(rc, limit)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrVoiceTooLarge, limit)
	}
	return b, nil
}
