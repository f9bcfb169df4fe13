package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var (
	ErrNoSender  = errors.New("notifier: no sender")
	ErrEmptyText = errors.New("notifier: empty text")
)

// Service sends text through a transport.Sender with a shared rate limit.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	now func() time.Time
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    bus,
		now:    time.Now,
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps the rate limit and timeout; in-flight sends keep the old ones.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = DefaultRatePerSec
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if s.limiter != nil && s.cfg.RatePerSec == cfg.RatePerSec {
		s.cfg = cfg
		return
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Deliver sends a fired reminder. Its signature matches scheduler.DeliverFunc.
func (s *Service) Deliver(ctx context.Context, chatID int64, text string) error {
	return s.send(ctx, KindReminder, chatID, text)
}

// Reply answers an inbound message.
func (s *Service) Reply(ctx context.Context, chatID int64, text string) error {
	return s.send(ctx, KindReply, chatID, text)
}

func (s *Service) send(ctx context.Context, kind Kind, chatID int64, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	if sender == nil {
		return ErrNoSender
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	start := s.now()
	err := lim.Wait(ctx)
	if err == nil {
		// Bound per-send call. Keep tight to avoid hanging workers.
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err = sender.SendText(callCtx, kit.ChatTarget{ChatID: chatID}, text, nil)
		cancel()
	}

	ev := NotificationEvent{Kind: kind, ChatID: chatID, At: s.now(), Took: s.now().Sub(start)}
	if err != nil {
		ev.Error = err.Error()
		s.log.Warn("send failed",
			logx.String("kind", string(kind)),
			logx.Int64("chat_id", chatID),
			logx.Duration("took", ev.Took),
			logx.Err(err),
		)
		eventbus.Publish(s.bus, eventbus.TypeReplyFailed, ev)
		return err
	}
	s.log.Debug("sent", logx.String("kind", string(kind)), logx.Int64("chat_id", chatID), logx.Duration("took", ev.Took))
	eventbus.Publish(s.bus, eventbus.TypeReplySent, ev)
	return nil
}
