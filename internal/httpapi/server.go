// Package httpapi is the bot's HTTP front end: status, health, metrics, the
// Telegram webhook and (optionally) pprof, all on one listener.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

const pprofPrefix = "/debug/pprof/"

type Config struct {
	Addr        string
	WebhookPath string
	MetricsPath string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Pprof      bool
	PprofToken string
}

// Routes are the handlers owned by other components. Nil entries are not
// mounted.
type Routes struct {
	Webhook  http.Handler
	Gatherer prometheus.Gatherer
	// Ready reports why the bot cannot serve yet; nil means healthy.
	Ready func() error
}

type Server struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	routes Routes

	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, routes Routes, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, routes: routes, log: log.With(logx.String("comp", "http"))}
}

// Handler builds the mux. Exposed for tests and for embedding.
func (s *Server) Handler() http.Handler {
	cfg := s.cfg
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "remindbot is running"})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.routes.Ready != nil {
			if err := s.routes.Ready(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.routes.Gatherer != nil && cfg.MetricsPath != "" {
		mux.Handle("GET "+cfg.MetricsPath, promhttp.HandlerFor(s.routes.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.routes.Webhook != nil && cfg.WebhookPath != "" {
		mux.Handle(cfg.WebhookPath, s.routes.Webhook)
	}
	if cfg.Pprof {
		wrap := func(h http.HandlerFunc) http.Handler { return withAuth(cfg.PprofToken, h) }
		mux.Handle(pprofPrefix, wrap(hpprof.Index))
		mux.Handle(pprofPrefix+"cmdline", wrap(hpprof.Cmdline))
		mux.Handle(pprofPrefix+"profile", wrap(hpprof.Profile))
		mux.Handle(pprofPrefix+"symbol", wrap(hpprof.Symbol))
		mux.Handle(pprofPrefix+"trace", wrap(hpprof.Trace))
	}
	return mux
}

// Start binds the listener synchronously so address errors surface to the
// caller, then serves in the background until Stop or ctx cancellation.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Start is idempotent.
	if s.srv != nil {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	s.ln, s.srv = ln, srv
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))

	s.sup.Go("http.serve", func(c context.Context) error {
		// Ensure the server is stopped when the supervisor context is cancelled.
		go func() {
			<-c.Done()
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(cctx)
			cancel()
		}()
		err := srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	s.log.Info("http started",
		logx.String("addr", ln.Addr().String()),
		logx.String("webhook", s.cfg.WebhookPath),
		logx.Bool("pprof", s.cfg.Pprof),
	)
	return nil
}

// Addr is the bound address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.ln, s.sup = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	sup.Cancel()
	if werr := sup.Wait(ctx); werr != nil && !errors.Is(werr, context.Canceled) {
		s.log.Warn("http serve loop ended with error", logx.Err(werr))
	}
	s.log.Info("http stopped")
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func withAuth(token string, h http.HandlerFunc) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Accept either:
		//   Authorization: Bearer <token>
		// or query param: ?token=<token>
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
