// Package server assembles the bridge: config in, one http.Handler out.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/altavoce/voicebridge/pkg/bridge/config"
	"github.com/altavoce/voicebridge/pkg/bridge/convlog"
	"github.com/altavoce/voicebridge/pkg/bridge/engine"
	"github.com/altavoce/voicebridge/pkg/bridge/handlers"
	"github.com/altavoce/voicebridge/pkg/bridge/mw"
	"github.com/altavoce/voicebridge/pkg/bridge/ratelimit"
	"github.com/altavoce/voicebridge/pkg/bridge/search"
	"github.com/altavoce/voicebridge/pkg/bridge/session"
	"github.com/altavoce/voicebridge/pkg/bridge/sessions"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	limiter  *ratelimit.Limiter
	tracker  *sessions.Tracker
	recorder *convlog.Recorder
	store    *convlog.PGStore
}

// New wires every bridge component from the configuration. The context
// bounds startup work only (store migrations and connectivity checks).
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var store *convlog.PGStore
	if cfg.ConvlogDatabaseURL != "" {
		var err error
		store, err = convlog.OpenPGStore(ctx, cfg.ConvlogDatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open conversation log store: %w", err)
		}
		logger.Info("conversation logging enabled")
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		limiter: ratelimit.New(ratelimit.Config{
			SessionsPerSecond:     cfg.LimitSessionsPerSecond,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentSessions: cfg.LimitMaxConcurrent,
		}),
		tracker: sessions.NewTracker(),
	}
	if store != nil {
		s.store = store
		s.recorder = convlog.NewRecorder(store, logger)
	} else {
		s.recorder = convlog.NewRecorder(nil, logger)
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	deps := handlers.SessionDeps{
		Config:   s.cfg,
		Logger:   s.logger,
		Limiter:  s.limiter,
		Tracker:  s.tracker,
		Recorder: s.recorder,
		Search:   s.searcher(),
		Dialer:   s.engineDialer(),
	}

	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg})
	s.mux.Handle("/ws", handlers.BrowserHandler{Deps: deps})
	s.mux.Handle("/media", handlers.TelephoneHandler{Deps: deps})
	s.mux.Handle("/call/events", handlers.CallEventsHandler{Logger: s.logger})
}

// searcher returns nil when the search backend is not fully configured, in
// which case the tool answers with an unavailability message instead.
func (s *Server) searcher() session.Searcher {
	if !s.cfg.SearchEnabled() {
		s.logger.Info("knowledge search disabled")
		return nil
	}
	httpClient := &http.Client{
		Timeout: s.cfg.SearchTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	return search.NewClient(s.cfg.SearchEndpoint, s.cfg.SearchIndex, s.cfg.SearchAPIKey, s.cfg.SearchTopN, httpClient)
}

func (s *Server) engineDialer() session.Dialer {
	dialer := engine.NewDialer(engine.DialConfig{
		Endpoint:         s.cfg.EngineEndpoint,
		Model:            s.cfg.EngineModel,
		APIKey:           s.cfg.EngineAPIKey,
		BearerToken:      s.cfg.EngineBearerToken,
		HandshakeTimeout: s.cfg.EngineHandshakeTimeout,
		WriteTimeout:     s.cfg.EngineWriteTimeout,
	})
	return session.DialerFunc(func(ctx context.Context) (session.EngineConn, error) {
		conn, err := dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// StopSessions asks every live session to stop and reports how many were
// asked.
func (s *Server) StopSessions(reason string) int {
	return s.tracker.StopAll(reason)
}

// WaitSessions blocks until all sessions have unregistered or the context
// expires, reporting whether the tracker drained.
func (s *Server) WaitSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

func (s *Server) SessionCount() int {
	return s.tracker.Count()
}

// Close releases resources held by the server, not the sessions.
func (s *Server) Close() {
	if s.store != nil {
		s.store.Close()
	}
}
