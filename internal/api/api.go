// Package api provides the CoachPipe admin HTTP server.
//
// It exposes health and session inspection endpoints, lets an operator restart a conversation or
// fire a scheduler hook by hand, and mounts the Twilio inbound webhook when that transport is used.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/flow"
	"github.com/BTreeMap/CoachPipe/internal/models"
)

// Server configuration constants
const (
	DefaultServerAddr   = ":8080"
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 3 * time.Minute
	DefaultIdleTimeout  = 60 * time.Second
	ShutdownTimeout     = 10 * time.Second
	// HealthCheckTimeout bounds the store query made by GET /health.
	HealthCheckTimeout = 5 * time.Second
	// AdminKeyHeader carries the admin key; "Authorization: Bearer <key>" is accepted too.
	AdminKeyHeader = "X-API-KEY"
)

// SessionReader is the read side of the session store.
type SessionReader interface {
	GetSession(ctx context.Context, userID string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]models.Session, error)
}

// Controller drives conversations on behalf of an operator. *flow.Dispatcher implements it.
type Controller interface {
	Fire(ctx context.Context, userID string, hook models.HookKind) (flow.Result, error)
	Restart(ctx context.Context, userID string) (flow.Result, error)
}

// HookCounter reports how many hook jobs are scheduled.
type HookCounter interface {
	Len() int
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	AdminKey      string
	Graph         string
	Hooks         HookCounter
	Webhook       http.Handler
	TwilioToken   string
	TwilioURL     string
	TwilioEnabled bool
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAdminKey requires the key on every endpoint except /health and the webhook.
func WithAdminKey(key string) Option {
	return func(o *Opts) { o.AdminKey = key }
}

// WithTransitionGraph serves graph at GET /flow/graph.
func WithTransitionGraph(graph string) Option {
	return func(o *Opts) { o.Graph = graph }
}

// WithHookCounter adds the scheduled hook count to the health report.
func WithHookCounter(h HookCounter) Option {
	return func(o *Opts) { o.Hooks = h }
}

// WithTwilioWebhook mounts h at POST /webhooks/twilio.
func WithTwilioWebhook(h http.Handler) Option {
	return func(o *Opts) { o.Webhook = h }
}

// WithTwilioSignature checks X-Twilio-Signature on the webhook against authToken. publicURL is
// the webhook URL exactly as configured in the Twilio console.
func WithTwilioSignature(authToken, publicURL string) Option {
	return func(o *Opts) {
		o.TwilioToken = authToken
		o.TwilioURL = publicURL
		o.TwilioEnabled = authToken != "" && publicURL != ""
	}
}

// Server is the admin HTTP server.
type Server struct {
	opts     Opts
	sessions SessionReader
	ctl      Controller
	now      func() time.Time
	srv      *http.Server
}

// NewServer creates a server over the session store and the dispatcher.
func NewServer(sessions SessionReader, ctl Controller, opts ...Option) *Server {
	o := Opts{Addr: DefaultServerAddr}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{
		opts:     o,
		sessions: sessions,
		ctl:      ctl,
		now:      time.Now,
	}
	s.srv = &http.Server{
		Addr:         o.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}
	return s
}

// Handler returns the routed handler, useful for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /sessions", s.guard(http.HandlerFunc(s.listSessionsHandler)))
	mux.Handle("GET /sessions/{id}", s.guard(http.HandlerFunc(s.getSessionHandler)))
	mux.Handle("DELETE /sessions/{id}", s.guard(http.HandlerFunc(s.restartSessionHandler)))
	mux.Handle("POST /sessions/{id}/hooks/{hook}", s.guard(http.HandlerFunc(s.fireHookHandler)))
	mux.Handle("GET /flow/graph", s.guard(http.HandlerFunc(s.graphHandler)))
	if s.opts.Webhook != nil {
		wh := s.opts.Webhook
		if s.opts.TwilioEnabled {
			wh = twilioSignatureGuard(s.opts.TwilioToken, s.opts.TwilioURL, wh)
		}
		mux.Handle("POST /webhooks/twilio", wh)
	}
	return logRequests(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", ln.Addr().String())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("API server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server graceful shutdown failed", "error", err)
		return err
	}
	return nil
}
