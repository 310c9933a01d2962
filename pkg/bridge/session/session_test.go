package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/altavoce/voicebridge/pkg/bridge/engine"
	"github.com/altavoce/voicebridge/pkg/bridge/transport"
)

type fakeEngineConn struct {
	mu      sync.Mutex
	written []any

	events    chan engine.Event
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeEngineConn() *fakeEngineConn {
	return &fakeEngineConn{
		events: make(chan engine.Event, 32),
		closed: make(chan struct{}),
	}
}

func (c *fakeEngineConn) WriteMessage(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v)
	return nil
}

func (c *fakeEngineConn) ReadEvent() (engine.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.closed:
		return nil, errors.New("engine connection closed")
	}
}

func (c *fakeEngineConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeEngineConn) push(ev engine.Event) { c.events <- ev }

func (c *fakeEngineConn) messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.written))
	copy(out, c.written)
	return out
}

type sinkCall struct {
	op   string
	kind transport.TranscriptKind
	text string
}

type fakeSink struct {
	mu         sync.Mutex
	calls      []sinkCall
	audioErr   error
	audioPanic bool
}

func (s *fakeSink) WriteAudio(audioB64 string) error {
	if s.audioPanic {
		panic("sink exploded")
	}
	if s.audioErr != nil {
		return s.audioErr
	}
	s.record(sinkCall{op: "audio", text: audioB64})
	return nil
}

func (s *fakeSink) WriteTranscript(kind transport.TranscriptKind, text string) error {
	s.record(sinkCall{op: "transcript", kind: kind, text: text})
	return nil
}

func (s *fakeSink) StopAudio() error {
	s.record(sinkCall{op: "stop"})
	return nil
}

func (s *fakeSink) record(c sinkCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *fakeSink) snapshot() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sinkCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *fakeSink) count(op string) int {
	n := 0
	for _, c := range s.snapshot() {
		if c.op == op {
			n++
		}
	}
	return n
}

type testHarness struct {
	sess      *Session
	conn      *fakeEngineConn
	sink      *fakeSink
	dialCount *atomic.Int32
}

func newTestSession(t *testing.T, search Searcher) *testHarness {
	t.Helper()
	conn := newFakeEngineConn()
	sink := &fakeSink{}
	var dials atomic.Int32
	dialer := DialerFunc(func(ctx context.Context) (EngineConn, error) {
		dials.Add(1)
		return conn, nil
	})
	sess := New(Config{
		ID:          "sess-test",
		Transport:   transport.KindBrowser,
		QueueSize:   32,
		EnqueueWait: 100 * time.Millisecond,
		ToolTimeout: time.Second,
		Now:         func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) },
	}, dialer, sink, search, testLogger())
	t.Cleanup(func() { sess.Close("test done") })
	return &testHarness{sess: sess, conn: conn, sink: sink, dialCount: &dials}
}

func (h *testHarness) start(t *testing.T) {
	t.Helper()
	if err := h.sess.HandleFrame(transport.Frame{Type: transport.FrameAudio, AudioB64: "UENN"}); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	waitFor(t, "session config and audio sent", func() bool { return len(h.conn.messages()) >= 2 })
}

func TestSessionDefersConnectUntilFirstMedia(t *testing.T) {
	h := newTestSession(t, nil)

	if err := h.sess.HandleFrame(transport.Frame{
		Type:         transport.FrameInstructions,
		Instructions: "Parla solo di orari.",
	}); err != nil {
		t.Fatalf("instructions frame: %v", err)
	}
	if n := h.dialCount.Load(); n != 0 {
		t.Fatalf("dialed %d times before any media", n)
	}
	if h.sess.State() != StateDisconnected {
		t.Fatalf("state = %v", h.sess.State())
	}

	h.start(t)
	if n := h.dialCount.Load(); n != 1 {
		t.Fatalf("dial count = %d", n)
	}

	msgs := h.conn.messages()
	cfg, ok := msgs[0].(engine.SessionUpdate)
	if !ok {
		t.Fatalf("first engine message = %#v, want session configuration", msgs[0])
	}
	if cfg.Session.Instructions != "Parla solo di orari." {
		t.Fatalf("instructions = %q", cfg.Session.Instructions)
	}
	if append2, ok := msgs[1].(engine.AudioAppend); !ok || append2.Audio != "UENN" {
		t.Fatalf("second engine message = %#v", msgs[1])
	}
}

func TestSessionActivatesOnSessionCreated(t *testing.T) {
	h := newTestSession(t, nil)
	h.start(t)

	h.conn.push(engine.SessionCreatedEvent{SessionID: "eng_1"})
	waitFor(t, "active state", func() bool { return h.sess.State() == StateActive })
}

func TestSessionUserTextTriggersResponse(t *testing.T) {
	h := newTestSession(t, nil)
	h.start(t)

	if err := h.sess.HandleFrame(transport.Frame{Type: transport.FrameUserText, Text: "che orari fate?"}); err != nil {
		t.Fatalf("text frame: %v", err)
	}
	waitFor(t, "text pair sent", func() bool { return len(h.conn.messages()) >= 4 })

	msgs := h.conn.messages()
	item, ok := msgs[2].(engine.ItemCreate)
	if !ok || item.Item.Role != "user" || item.Item.Content[0].Text != "che orari fate?" {
		t.Fatalf("item = %#v", msgs[2])
	}
	if _, ok := msgs[3].(engine.ResponseCreate); !ok {
		t.Fatalf("message after item = %#v, want response trigger", msgs[3])
	}
}

func TestSessionInstructionsAfterConnectGoOutOfBand(t *testing.T) {
	h := newTestSession(t, nil)
	h.start(t)

	if err := h.sess.HandleFrame(transport.Frame{
		Type:         transport.FrameInstructions,
		Instructions: "Da ora rispondi in inglese.",
	}); err != nil {
		t.Fatalf("instructions frame: %v", err)
	}
	waitFor(t, "instruction update sent", func() bool {
		for _, msg := range h.conn.messages() {
			if update, ok := msg.(engine.SessionUpdate); ok &&
				update.Session.Instructions == "Da ora rispondi in inglese." &&
				update.Session.TurnDetection == nil {
				return true
			}
		}
		return false
	})
}

func TestSessionBargeIn(t *testing.T) {
	h := newTestSession(t, nil)
	h.start(t)

	h.conn.push(engine.ResponseCreatedEvent{})
	h.conn.push(engine.AudioDeltaEvent{DeltaB64: "UENN"})
	waitFor(t, "audio forwarded", func() bool { return h.sink.count("audio") == 1 })

	h.conn.push(engine.SpeechStartedEvent{AudioStartMS: 1200})
	waitFor(t, "stop signal", func() bool { return h.sink.count("stop") == 1 })

	// Without a response in flight another speech start is not a barge-in.
	h.conn.push(engine.SpeechStartedEvent{AudioStartMS: 2400})
	h.conn.push(engine.SpeechStoppedEvent{})
	waitFor(t, "speech stop routed", func() bool { return len(h.conn.messages()) >= 2 })
	time.Sleep(50 * time.Millisecond)
	if n := h.sink.count("stop"); n != 1 {
		t.Fatalf("stop count = %d, want 1", n)
	}

	if h.sess.Err() != nil {
		t.Fatalf("barge-in tore session down: %v", h.sess.Err())
	}
}

func TestSessionForwardsTranscripts(t *testing.T) {
	h := newTestSession(t, nil)
	h.start(t)

	h.conn.push(engine.UserTranscriptEvent{Transcript: "vorrei prenotare"})
	h.conn.push(engine.BotTranscriptEvent{Transcript: "Certo, per quando?"})
	h.conn.push(engine.ItemCompletedEvent{ItemType: "message", Role: "assistant", Texts: []string{"Certo, per quando?"}})
	waitFor(t, "transcripts forwarded", func() bool { return h.sink.count("transcript") == 3 })

	var kinds []transport.TranscriptKind
	for _, c := range h.sink.snapshot() {
		if c.op == "transcript" {
			kinds = append(kinds, c.kind)
		}
	}
	want := []transport.TranscriptKind{transport.TranscriptUser, transport.TranscriptBot, transport.TranscriptText}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("transcript kinds = %v", kinds)
		}
	}
}

func TestSessionToolCallRoundTrip(t *testing.T) {
	searcher := &fakeSearcher{result: "Informazioni trovate nel database della farmacia:\n\n[1] Orari\n..."}
	h := newTestSession(t, searcher)
	h.start(t)

	cfg := h.conn.messages()[0].(engine.SessionUpdate)
	if len(cfg.Session.Tools) != 1 {
		t.Fatalf("session config tools = %+v", cfg.Session.Tools)
	}

	h.conn.push(engine.ToolCallEvent{
		CallID:    "call_7",
		Name:      engine.SearchToolName,
		Arguments: `{"query":"orari di apertura"}`,
	})

	waitFor(t, "tool output pair sent", func() bool {
		msgs := h.conn.messages()
		for i, msg := range msgs {
			item, ok := msg.(engine.ItemCreate)
			if !ok || item.Item.Type != "function_call_output" {
				continue
			}
			if item.Item.CallID != "call_7" || !strings.Contains(item.Item.Output, "Informazioni trovate") {
				return false
			}
			if i+1 >= len(msgs) {
				return false
			}
			_, ok = msgs[i+1].(engine.ResponseCreate)
			return ok
		}
		return false
	})

	if queries := searcher.gotQueries(); len(queries) != 1 || queries[0] != "orari di apertura" {
		t.Fatalf("queries = %v", queries)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	h := newTestSession(t, nil)
	h.start(t)

	if err := h.sess.Close("client disconnect"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.sess.Close("client disconnect"); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if h.sess.State() != StateClosed {
		t.Fatalf("state = %v", h.sess.State())
	}
	if err := h.sess.HandleFrame(transport.Frame{Type: transport.FrameAudio, AudioB64: "UENN"}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("frame after close err = %v", err)
	}
}

func TestSessionEngineReadFailureTearsDown(t *testing.T) {
	h := newTestSession(t, nil)
	h.start(t)

	h.conn.Close()
	waitFor(t, "teardown", func() bool {
		select {
		case <-h.sess.Done():
			return true
		default:
			return false
		}
	})
	if err := h.sess.Close("test"); err == nil {
		t.Fatal("expected session error after engine connection loss")
	}
}

func TestSessionSinkWriteFailureTearsDown(t *testing.T) {
	h := newTestSession(t, nil)
	h.sink.audioErr = errors.New("client gone")
	h.start(t)

	h.conn.push(engine.AudioDeltaEvent{DeltaB64: "UENN"})
	waitFor(t, "teardown after sink failure", func() bool {
		select {
		case <-h.sess.Done():
			return true
		default:
			return false
		}
	})
	if err := h.sess.Close("test"); err == nil || !strings.Contains(err.Error(), "client gone") {
		t.Fatalf("err = %v", err)
	}
}

func TestSessionTaskPanicSurfaces(t *testing.T) {
	h := newTestSession(t, nil)
	h.sink.audioPanic = true
	h.start(t)

	h.conn.push(engine.AudioDeltaEvent{DeltaB64: "UENN"})
	waitFor(t, "teardown after panic", func() bool {
		select {
		case <-h.sess.Done():
			return true
		default:
			return false
		}
	})
	err := h.sess.Close("test")
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("err = %v, want surfaced panic", err)
	}
}

func TestSessionDialFailureSurfaces(t *testing.T) {
	sink := &fakeSink{}
	dialer := DialerFunc(func(ctx context.Context) (EngineConn, error) {
		return nil, errors.New("credentials rejected")
	})
	sess := New(Config{ID: "sess-dial", Transport: transport.KindTelephone, QueueSize: 8}, dialer, sink, nil, testLogger())

	if err := sess.HandleFrame(transport.Frame{Type: transport.FrameAudio, AudioB64: "UENN"}); err != nil {
		t.Fatalf("frame: %v", err)
	}
	waitFor(t, "dial failure teardown", func() bool {
		select {
		case <-sess.Done():
			return true
		default:
			return false
		}
	})
	err := sess.Close("test")
	if err == nil || !strings.Contains(err.Error(), "credentials rejected") {
		t.Fatalf("err = %v", err)
	}
}
