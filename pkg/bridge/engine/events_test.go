package engine

import (
	"errors"
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, ev Event)
	}{
		{
			name: "session created",
			raw:  `{"type":"session.created","session":{"id":"sess_123"}}`,
			check: func(t *testing.T, ev Event) {
				created, ok := ev.(SessionCreatedEvent)
				if !ok || created.SessionID != "sess_123" {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			name: "response lifecycle",
			raw:  `{"type":"response.done","response":{"id":"resp_1","status":"completed"}}`,
			check: func(t *testing.T, ev Event) {
				done, ok := ev.(ResponseDoneEvent)
				if !ok || done.ResponseID != "resp_1" || done.Status != "completed" {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			name: "speech started",
			raw:  `{"type":"input_audio_buffer.speech_started","audio_start_ms":1540}`,
			check: func(t *testing.T, ev Event) {
				started, ok := ev.(SpeechStartedEvent)
				if !ok || started.AudioStartMS != 1540 {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			name: "user transcript",
			raw:  `{"type":"conversation.item.input_audio_transcription.completed","transcript":"vorrei un'aspirina"}`,
			check: func(t *testing.T, ev Event) {
				tr, ok := ev.(UserTranscriptEvent)
				if !ok || tr.Transcript != "vorrei un'aspirina" {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			name: "audio delta",
			raw:  `{"type":"response.audio.delta","delta":"UENN"}`,
			check: func(t *testing.T, ev Event) {
				delta, ok := ev.(AudioDeltaEvent)
				if !ok || delta.DeltaB64 != "UENN" {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			name: "tool call",
			raw:  `{"type":"response.function_call_arguments.done","call_id":"call_9","name":"search_pharmacy_database","arguments":"{\"query\":\"paracetamolo\"}"}`,
			check: func(t *testing.T, ev Event) {
				call, ok := ev.(ToolCallEvent)
				if !ok || call.CallID != "call_9" || call.Name != SearchToolName {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			name: "engine error",
			raw:  `{"type":"error","error":{"code":"rate_limit","message":"slow down"}}`,
			check: func(t *testing.T, ev Event) {
				errEv, ok := ev.(ErrorEvent)
				if !ok || errEv.Code != "rate_limit" {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			name: "unknown type preserved",
			raw:  `{"type":"rate_limits.updated","rate_limits":[]}`,
			check: func(t *testing.T, ev Event) {
				unknown, ok := ev.(UnknownEvent)
				if !ok || unknown.Type != "rate_limits.updated" {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.raw))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			tt.check(t, ev)
		})
	}
}

func TestDecodeEventMalformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"no_type":true}`,
		`{"type":"response.audio.delta"}`,
		`{"type":"response.function_call_arguments.done","name":"x"}`,
	} {
		if _, err := DecodeEvent([]byte(raw)); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("DecodeEvent(%q) err = %v, want ErrMalformedEvent", raw, err)
		}
	}
}

func TestItemCompletedAssistantText(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"conversation.item.completed","item":{"type":"message","role":"assistant","content":[{"type":"text","text":"La farmacia apre alle 8:30."}]}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	item, ok := ev.(ItemCompletedEvent)
	if !ok {
		t.Fatalf("event = %#v", ev)
	}
	text, ok := item.AssistantText()
	if !ok || text != "La farmacia apre alle 8:30." {
		t.Fatalf("assistant text = %q ok=%v", text, ok)
	}

	ev, err = DecodeEvent([]byte(`{"type":"conversation.item.completed","item":{"type":"function_call","role":""}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := ev.(ItemCompletedEvent).AssistantText(); ok {
		t.Fatal("function_call item should not yield assistant text")
	}
}
