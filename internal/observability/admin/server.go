// Package admin serves a small authenticated HTTP API for operating a
// running daemon: status, history, pause/resume/clear and manual trigger
// firing. pprof can be mounted under /debug.
package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskgate/internal/history"
	"taskgate/internal/trigger"
	"taskgate/pkg/dispatch"
	logx "taskgate/pkg/logx"
)

const DefaultAddr = "127.0.0.1:7070"

// ErrInsecureBind is returned for a non-loopback addr without a token.
var ErrInsecureBind = errors.New("admin: non-loopback addr requires token or allow_insecure")

type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// CheckBind reports ErrInsecureBind for an unprotected public listener.
func (c Config) CheckBind() error {
	if c.AllowInsecure || strings.TrimSpace(c.Token) != "" {
		return nil
	}
	if !isLoopbackAddr(c.addr()) {
		return fmt.Errorf("%w (addr %s)", ErrInsecureBind, c.addr())
	}
	return nil
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultAddr
}

type Dispatcher interface {
	Snapshot() dispatch.Snapshot
	Pause()
	Resume()
	Clear()
}

type Triggers interface {
	Snapshot() []trigger.Info
	Fire(name string) error
}

type History interface {
	Recent(n int) []history.Entry
	Dropped() uint64
}

type Server struct {
	cfg     Config
	log     logx.Logger
	disp    Dispatcher
	trig    Triggers
	hist    History
	started time.Time
	handler http.Handler
}

func New(cfg Config, disp Dispatcher, trig Triggers, hist History, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, log: log, disp: disp, trig: trig, hist: hist, started: time.Now()}
	s.handler = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Post("/dispatcher/pause", s.handlePause)
		r.Post("/dispatcher/resume", s.handleResume)
		r.Post("/dispatcher/clear", s.handleClear)
		r.Post("/triggers/{name}/fire", s.handleFire)
		if s.cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

// Serve listens on the configured addr until ctx is done. It returns nil
// after a shutdown caused by ctx.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.cfg.CheckBind(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.addr())
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  orDefault(s.cfg.ReadTimeout, 10*time.Second),
		WriteTimeout: orDefault(s.cfg.WriteTimeout, 60*time.Second),
		IdleTimeout:  orDefault(s.cfg.IdleTimeout, 60*time.Second),
	}
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("admin server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""),
		logx.Bool("pprof", s.cfg.Pprof),
	)
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		s.log.Info("admin server stopped")
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("admin server exited unexpectedly")
	}
	return err
}

// auth accepts "Authorization: Bearer <token>" or ?token=. No token
// configured means open access.
func (s *Server) auth(next http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("admin request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		)
	})
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
