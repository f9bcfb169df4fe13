package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

// Service owns the job store and the cron loop that fires it.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	loc atomic.Pointer[time.Location]

	c     *cron.Cron
	chain cron.Chain
	store *JobStore

	running bool
	stopped bool

	// fireCtx is handed to delivery callbacks. Stop cancels it, and so does
	// the context given to Start.
	fireCtx    context.Context
	fireCancel context.CancelFunc
	unlink     func() bool

	now func() time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log: log,
		bus: bus,
		now: time.Now,
	}
	s.loc.Store(loadLocation(cfg.Timezone, log))

	cl := cronLogger{log: log}
	s.chain = cron.NewChain(cron.Recover(cl))
	s.c = cron.New(cron.WithLocation(s.Location()), cron.WithLogger(cl))
	s.store = NewJobStore(s.c.Remove)
	s.fireCtx, s.fireCancel = context.WithCancel(context.Background())
	return s
}

// Location is the default timezone for new jobs. Safe for concurrent use.
func (s *Service) Location() *time.Location { return s.loc.Load() }

// Apply swaps the default timezone. Jobs already registered keep theirs.
func (s *Service) Apply(cfg Config) {
	loc := loadLocation(cfg.Timezone, s.log)
	old := s.loc.Swap(loc)
	if old.String() != loc.String() {
		s.log.Info("timezone changed", logx.String("from", old.String()), logx.String("to", loc.String()))
	}
}

// Store exposes the job set (read access for diagnostics and tests).
func (s *Service) Store() *JobStore { return s.store }

// Start starts the cron loop. Calling it again is a no-op. Once ctx is done,
// callbacks receive a cancelled context; the loop itself runs until Stop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return
	}
	s.unlink = context.AfterFunc(ctx, s.fireCancel)
	s.c.Start()
	s.running = true
	s.log.Info("service started", logx.String("tz", s.Location().String()), logx.Int("jobs", s.store.Len()))
}

// Stop halts the cron loop, waits (bounded by ctx) for running callbacks and
// drops every job. Jobs are not persisted, so a stopped service cannot be
// restarted.
func (s *Service) Stop(ctx context.Context) {
	start := s.now()
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	unlink := s.unlink
	s.mu.Unlock()
	if unlink != nil {
		unlink()
	}

	s.log.Info("stop requested")
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("stop: callbacks still running", logx.Err(ctx.Err()))
	}
	s.fireCancel()
	dropped := s.store.Clear()
	s.log.Info("service stopped", logx.Int("dropped_jobs", dropped), logx.Duration("took", s.now().Sub(start)))
}

// Running reports whether the cron loop is firing jobs.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
