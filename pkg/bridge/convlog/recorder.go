// Package convlog records conversations and persists them, anonymized, at
// session end.
package convlog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Role labels one side of the conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance.
type Turn struct {
	Role Role
	Text string
	At   time.Time
}

// Record is one finished conversation ready for persistence.
type Record struct {
	SessionID string
	Channel   string
	StartedAt time.Time
	EndedAt   time.Time
	Turns     []Turn
}

// Store persists finished conversations.
type Store interface {
	SaveConversation(ctx context.Context, rec Record) error
}

type conversation struct {
	channel   string
	startedAt time.Time
	turns     []Turn
}

// Recorder accumulates turns per session and flushes them to the store when
// the session finishes. Text is masked on the way in, so raw identifiers
// never sit in the buffer. A nil store disables recording entirely.
type Recorder struct {
	store  Store
	anon   *Anonymizer
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	convs map[string]*conversation
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		anon:   NewAnonymizer(),
		logger: logger,
		now:    time.Now,
		convs:  make(map[string]*conversation),
	}
}

// Enabled reports whether a store is attached.
func (r *Recorder) Enabled() bool {
	return r != nil && r.store != nil
}

// Start opens the buffer for one session.
func (r *Recorder) Start(sessionID, channel string) {
	if !r.Enabled() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs[sessionID] = &conversation{channel: channel, startedAt: r.now()}
}

// AddTurn appends one masked utterance. Unknown sessions are ignored.
func (r *Recorder) AddTurn(sessionID string, role Role, text string) {
	if !r.Enabled() || text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[sessionID]
	if !ok {
		return
	}
	conv.turns = append(conv.turns, Turn{
		Role: role,
		Text: r.anon.Mask(text),
		At:   r.now(),
	})
}

// Finish flushes the session's conversation. Sessions without any turns are
// dropped without touching the store.
func (r *Recorder) Finish(ctx context.Context, sessionID string) error {
	if !r.Enabled() {
		return nil
	}
	r.mu.Lock()
	conv, ok := r.convs[sessionID]
	delete(r.convs, sessionID)
	r.mu.Unlock()

	if !ok || len(conv.turns) == 0 {
		return nil
	}

	rec := Record{
		SessionID: sessionID,
		Channel:   conv.channel,
		StartedAt: conv.startedAt,
		EndedAt:   r.now(),
		Turns:     conv.turns,
	}
	if err := r.store.SaveConversation(ctx, rec); err != nil {
		r.logger.Error("persist conversation failed", "session_id", sessionID, "error", err)
		return err
	}
	r.logger.Info("conversation persisted", "session_id", sessionID, "turns", len(rec.Turns))
	return nil
}
