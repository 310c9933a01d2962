// Package handlers exposes the bridge's HTTP surface: the two session
// endpoints, the call-event webhook and the health probes.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/altavoce/voicebridge/pkg/bridge/config"
	"github.com/altavoce/voicebridge/pkg/bridge/convlog"
	"github.com/altavoce/voicebridge/pkg/bridge/mw"
	"github.com/altavoce/voicebridge/pkg/bridge/ratelimit"
	"github.com/altavoce/voicebridge/pkg/bridge/session"
	"github.com/altavoce/voicebridge/pkg/bridge/sessions"
	"github.com/altavoce/voicebridge/pkg/bridge/transport"
)

// SessionDeps carries everything a session endpoint needs. Search may be nil
// (tool disabled); Recorder may be disabled.
type SessionDeps struct {
	Config   config.Config
	Logger   *slog.Logger
	Limiter  *ratelimit.Limiter
	Tracker  *sessions.Tracker
	Recorder *convlog.Recorder
	Search   session.Searcher
	Dialer   session.Dialer
}

// wsFrameWriter serializes writes to one client websocket and applies the
// configured write deadline.
type wsFrameWriter struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

func (w *wsFrameWriter) write(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return err
		}
	}
	return w.conn.WriteMessage(messageType, data)
}

func (w *wsFrameWriter) WriteText(data []byte) error {
	return w.write(websocket.TextMessage, data)
}

func (w *wsFrameWriter) WriteBinary(data []byte) error {
	return w.write(websocket.BinaryMessage, data)
}

// recordingSink copies transcripts into the conversation log on their way to
// the client. Final bot text (TranscriptText) repeats the voice transcript,
// so only the voice pair is recorded.
type recordingSink struct {
	session.Sink
	rec       *convlog.Recorder
	sessionID string
}

func (s recordingSink) WriteTranscript(kind transport.TranscriptKind, text string) error {
	switch kind {
	case transport.TranscriptUser:
		s.rec.AddTurn(s.sessionID, convlog.RoleUser, text)
	case transport.TranscriptBot:
		s.rec.AddTurn(s.sessionID, convlog.RoleAssistant, text)
	}
	return s.Sink.WriteTranscript(kind, text)
}

// serveSession runs one client websocket for its whole lifetime: admission,
// upgrade, the inbound frame pump, and teardown.
func serveSession(deps SessionDeps, kind transport.Kind, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := deps.Logger.With("request_id", reqID, "transport", string(kind))

	decision := deps.Limiter.AcquireSession(ratelimit.CallerKey(r.RemoteAddr), time.Now())
	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
		http.Error(w, "too many sessions", http.StatusTooManyRequests)
		return
	}
	defer decision.Permit.Release()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer wsConn.Close()

	sessionID := uuid.NewString()
	logger = logger.With("session_id", sessionID)

	writer := &wsFrameWriter{conn: wsConn, timeout: deps.Config.ClientWriteTimeout}
	var sink session.Sink
	if kind == transport.KindTelephone {
		sink = session.NewTelephoneSink(writer)
	} else {
		sink = session.NewBrowserSink(writer)
	}
	if deps.Recorder.Enabled() {
		deps.Recorder.Start(sessionID, string(kind))
		sink = recordingSink{Sink: sink, rec: deps.Recorder, sessionID: sessionID}
	}

	sess := session.New(session.Config{
		ID:          sessionID,
		Transport:   kind,
		QueueSize:   deps.Config.OutboundQueueSize,
		EnqueueWait: deps.Config.OutboundQueueWait,
		ToolTimeout: deps.Config.ToolTimeout,
	}, deps.Dialer, sink, deps.Search, deps.Logger)

	unregister := deps.Tracker.Register(sessionID, sessions.Handle{
		Stop: func(reason string) {
			logger.Info("session stop requested", "reason", reason)
			wsConn.Close()
		},
	})
	defer unregister()

	// Close the client socket as soon as the session dies so the pump
	// below does not sit in ReadMessage forever.
	pumpDone := make(chan struct{})
	defer close(pumpDone)
	go func() {
		select {
		case <-sess.Done():
			wsConn.Close()
		case <-pumpDone:
		}
	}()

	logger.Info("session opened", "remote_addr", r.RemoteAddr)
	runFramePump(logger, sess, wsConn, kind)

	if err := sess.Close("client disconnected"); err != nil {
		logger.Warn("session ended with error", "error", err)
	}

	if deps.Recorder.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := deps.Recorder.Finish(ctx, sessionID); err != nil {
			logger.Warn("conversation log flush failed", "error", err)
		}
	}
	logger.Info("session closed")
}

// runFramePump is the session's inbound task: it reads client frames until
// the socket dies and routes them into the session. Undecodable frames are
// dropped, never fatal.
func runFramePump(logger *slog.Logger, sess *session.Session, wsConn *websocket.Conn, kind transport.Kind) {
	for {
		messageType, data, err := wsConn.ReadMessage()
		if err != nil {
			logger.Debug("client read ended", "error", err)
			return
		}

		var frame transport.Frame
		switch {
		case kind == transport.KindBrowser && messageType == websocket.BinaryMessage:
			frame = transport.DecodeBrowserBinary(data)
		case kind == transport.KindBrowser && messageType == websocket.TextMessage:
			frame, err = transport.DecodeBrowserText(data)
		case kind == transport.KindTelephone && messageType == websocket.TextMessage:
			frame, err = transport.DecodeTelephoneText(data)
		default:
			continue
		}
		if err != nil {
			if !errors.Is(err, transport.ErrSilentAudio) {
				logger.Debug("dropping client frame", "error", err)
			}
			continue
		}

		if err := sess.HandleFrame(frame); err != nil {
			switch {
			case errors.Is(err, session.ErrSessionClosed):
				return
			case errors.Is(err, session.ErrQueueFull):
				// Backpressure: shed this frame, keep the call alive.
				logger.Warn("outbound queue saturated, dropping frame")
			case errors.Is(err, session.ErrDispatcherClosed):
				return
			default:
				logger.Error("frame handling failed", "error", err)
				return
			}
		}
	}
}

// BrowserHandler serves /ws for browser microphone clients.
type BrowserHandler struct {
	Deps SessionDeps
}

func (h BrowserHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveSession(h.Deps, transport.KindBrowser, w, r)
}

// TelephoneHandler serves /media for telephony media streams.
type TelephoneHandler struct {
	Deps SessionDeps
}

func (h TelephoneHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveSession(h.Deps, transport.KindTelephone, w, r)
}
