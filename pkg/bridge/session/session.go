// Package session holds the per-call bridge between one client transport
// and one engine connection: the outbound dispatcher, the upstream event
// router and the lifecycle state machine that supervises them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/altavoce/voicebridge/pkg/bridge/engine"
	"github.com/altavoce/voicebridge/pkg/bridge/transport"
)

// ErrSessionClosed reports activity on a session past teardown.
var ErrSessionClosed = errors.New("session closed")

// EngineConn is the live upstream connection a session talks to.
type EngineConn interface {
	WriteMessage(v any) error
	ReadEvent() (engine.Event, error)
	Close() error
}

// Dialer opens the engine connection on demand.
type Dialer interface {
	Dial(ctx context.Context) (EngineConn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (EngineConn, error)

func (f DialerFunc) Dial(ctx context.Context) (EngineConn, error) { return f(ctx) }

// Config carries the per-session knobs.
type Config struct {
	// ID names the session in logs.
	ID string
	// Transport records which client transport is attached.
	Transport transport.Kind
	// QueueSize bounds the outbound dispatcher queue, in batches.
	QueueSize int
	// EnqueueWait bounds how long an enqueue blocks on a full queue.
	EnqueueWait time.Duration
	// ToolTimeout bounds one knowledge-search round trip.
	ToolTimeout time.Duration
	// Now supplies the session clock. Defaults to time.Now.
	Now func() time.Time
}

// Session bridges one client connection to one engine connection. The engine
// dial is deferred until the first audio or text frame, so an instruction
// update sent before any media still lands in the initial configuration.
//
// Three supervised tasks run per session once connected: the caller's frame
// pump (driven through HandleFrame), the dispatcher consumer and the event
// router. Any task failure or panic tears the whole session down.
type Session struct {
	cfg    Config
	logger *slog.Logger
	dialer Dialer
	sink   Sink

	dispatcher    *Dispatcher
	coord         *Coordinator
	searchEnabled bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	closing atomic.Bool
	stopped sync.Once

	mu           sync.Mutex
	state        State
	conn         EngineConn
	instructions string

	errMu    sync.Mutex
	firstErr error

	responseInProgress atomic.Bool
}

// New builds a session. search may be nil, which disables the knowledge tool
// for this session.
func New(cfg Config, dialer Dialer, sink Sink, search Searcher, logger *slog.Logger) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:           cfg,
		logger:        logger.With("session_id", cfg.ID, "transport", string(cfg.Transport)),
		dialer:        dialer,
		sink:          sink,
		searchEnabled: search != nil,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		state:         StateDisconnected,
	}
	s.dispatcher = NewDispatcher(cfg.QueueSize, cfg.EnqueueWait)
	s.coord = NewCoordinator(search, s.dispatcher, cfg.ToolTimeout, s.logger)
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done closes when teardown has started.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the first task failure, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.firstErr
}

// HandleFrame routes one decoded inbound frame. The first audio or text
// frame triggers the engine dial; frames enqueued while the connection is
// still being established are delivered in submission order once it is up.
func (s *Session) HandleFrame(f transport.Frame) error {
	switch f.Type {
	case transport.FrameInstructions:
		return s.updateInstructions(f.Instructions)

	case transport.FrameAudio:
		if err := s.ensureStarted(); err != nil {
			return err
		}
		return s.dispatcher.Enqueue(engine.NewAudioAppend(f.AudioB64))

	case transport.FrameUserText:
		if err := s.ensureStarted(); err != nil {
			return err
		}
		return s.dispatcher.Enqueue(
			engine.NewUserTextItem(f.Text),
			engine.NewResponseCreate(),
		)

	default:
		return fmt.Errorf("unhandled frame type %d", f.Type)
	}
}

// updateInstructions stores the replacement before the engine is dialed and
// sends it out of band once a connection exists.
func (s *Session) updateInstructions(instructions string) error {
	s.mu.Lock()
	if s.state >= StateClosing {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	conn := s.conn
	if conn == nil {
		if s.instructions != "" {
			s.logger.Warn("replacing pending instructions before connect")
		}
		s.instructions = instructions
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info("updating session instructions")
	return conn.WriteMessage(engine.NewInstructionsUpdate(instructions))
}

func (s *Session) ensureStarted() error {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected:
		s.state = StateConnecting
		instructions := s.instructions
		s.mu.Unlock()
		s.goTask("connect", func(ctx context.Context) error {
			return s.connect(ctx, instructions)
		})
		return nil
	case StateClosing, StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	default:
		s.mu.Unlock()
		return nil
	}
}

// connect dials the engine, sends the session configuration as the first
// outbound message and starts the dispatcher and router tasks. There is no
// retry; a failed dial fails the session.
func (s *Session) connect(ctx context.Context, instructions string) error {
	s.logger.Info("dialing engine")
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial engine: %w", err)
	}

	s.mu.Lock()
	if s.state >= StateClosing {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.state = StateConfiguring
	s.mu.Unlock()

	cfg := engine.NewSessionConfig(engine.ConfigOptions{
		Instructions: instructions,
		Date:         s.cfg.Now(),
		EnableSearch: s.searchEnabled,
	})
	if err := conn.WriteMessage(cfg); err != nil {
		return fmt.Errorf("send session config: %w", err)
	}

	s.goTask("dispatcher", func(ctx context.Context) error {
		return s.dispatcher.Run(ctx, conn)
	})
	s.goTask("router", func(ctx context.Context) error {
		return s.routeEvents(ctx, conn)
	})
	return nil
}

// Close starts teardown, waits for all session tasks and reports the first
// failure. Safe to call more than once.
func (s *Session) Close(reason string) error {
	s.shutdown(reason)
	s.wg.Wait()
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	return s.Err()
}

// shutdown is the idempotent, non-blocking half of teardown. Pending tool
// calls resolve before the dispatcher stops so none is left dangling.
func (s *Session) shutdown(reason string) {
	s.stopped.Do(func() {
		s.closing.Store(true)
		s.mu.Lock()
		if s.state < StateClosing {
			s.state = StateClosing
		}
		conn := s.conn
		s.mu.Unlock()

		s.logger.Info("session closing", "reason", reason)
		s.coord.CancelPending()
		s.dispatcher.Close()
		s.cancel()
		if conn != nil {
			conn.Close()
		}
		close(s.done)
	})
}

func (s *Session) fail(err error) {
	s.errMu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.errMu.Unlock()
	s.shutdown("task failure")
}

// goTask supervises one session goroutine. Panics are logged with their
// stack and converted into session failure instead of crashing the process.
func (s *Session) goTask(name string, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("session task panicked",
					"task", name, "panic", v, "stack", string(debug.Stack()))
				s.fail(fmt.Errorf("task %s panicked: %v", name, v))
			}
		}()

		err := fn(s.ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		if s.closing.Load() {
			s.logger.Debug("task ended during teardown", "task", name, "error", err)
			return
		}
		s.fail(fmt.Errorf("task %s: %w", name, err))
	}()
}
