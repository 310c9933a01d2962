package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeBrowserBinary(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	frame := DecodeBrowserBinary(pcm)
	if frame.Type != FrameAudio {
		t.Fatalf("frame type = %d, want FrameAudio", frame.Type)
	}
	decoded, err := base64.StdEncoding.DecodeString(frame.AudioB64)
	if err != nil {
		t.Fatalf("decode audio: %v", err)
	}
	if string(decoded) != string(pcm) {
		t.Fatalf("audio round trip = %v, want %v", decoded, pcm)
	}
}

func TestDecodeBrowserText(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Frame
		wantErr bool
	}{
		{
			name: "audio append",
			raw:  `{"type":"input_audio_buffer.append","audio":"QUJD"}`,
			want: Frame{Type: FrameAudio, AudioB64: "QUJD"},
		},
		{
			name: "item create legacy shape",
			raw:  `{"type":"conversation.item.create","input":{"type":"input_text","text":"ciao"}}`,
			want: Frame{Type: FrameUserText, Text: "ciao"},
		},
		{
			name: "item create item shape",
			raw:  `{"type":"conversation.item.create","item":{"type":"message","role":"user","content":[{"type":"input_text","text":"orari di apertura"}]}}`,
			want: Frame{Type: FrameUserText, Text: "orari di apertura"},
		},
		{
			name: "instruction update",
			raw:  `{"type":"session.update_instructions","instructions":"Rispondi in inglese."}`,
			want: Frame{Type: FrameInstructions, Instructions: "Rispondi in inglese."},
		},
		{
			name:    "unknown type",
			raw:     `{"type":"response.cancel"}`,
			wantErr: true,
		},
		{
			name:    "item create without text",
			raw:     `{"type":"conversation.item.create","item":{"type":"message","content":[]}}`,
			wantErr: true,
		},
		{
			name:    "not json",
			raw:     `pcm-bytes-as-text`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeBrowserText([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected decode error, got frame %+v", frame)
				}
				var decodeErr *DecodeError
				if !errors.As(err, &decodeErr) {
					t.Fatalf("error type = %T, want *DecodeError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if frame != tt.want {
				t.Fatalf("frame = %+v, want %+v", frame, tt.want)
			}
		})
	}
}

func TestDecodeTelephoneText(t *testing.T) {
	frame, err := DecodeTelephoneText([]byte(`{"kind":"AudioData","audioData":{"data":"UENN","silent":false}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Type != FrameAudio || frame.AudioB64 != "UENN" {
		t.Fatalf("frame = %+v", frame)
	}

	if _, err := DecodeTelephoneText([]byte(`{"kind":"AudioData","audioData":{"data":"UENN","silent":true}}`)); !errors.Is(err, ErrSilentAudio) {
		t.Fatalf("silent frame error = %v, want ErrSilentAudio", err)
	}

	if _, err := DecodeTelephoneText([]byte(`{"kind":"AudioMetadata"}`)); err == nil {
		t.Fatal("expected decode error for metadata frame")
	}
}

func TestEncodeTelephoneAudio(t *testing.T) {
	raw, err := EncodeTelephoneAudio("UENN")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(envelope["Kind"]) != `"AudioData"` {
		t.Fatalf("Kind = %s", envelope["Kind"])
	}
	if string(envelope["StopAudio"]) != "null" {
		t.Fatalf("StopAudio = %s, want null", envelope["StopAudio"])
	}
	var audio outboundAudio
	if err := json.Unmarshal(envelope["AudioData"], &audio); err != nil {
		t.Fatalf("unmarshal audio: %v", err)
	}
	if audio.Data != "UENN" {
		t.Fatalf("Data = %q", audio.Data)
	}
}

func TestEncodeTelephoneStop(t *testing.T) {
	raw, err := EncodeTelephoneStop()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(envelope["Kind"]) != `"StopAudio"` {
		t.Fatalf("Kind = %s", envelope["Kind"])
	}
	if string(envelope["AudioData"]) != "null" {
		t.Fatalf("AudioData = %s, want null", envelope["AudioData"])
	}
}

func TestEncodeTranscript(t *testing.T) {
	raw, err := EncodeTranscript(TranscriptBot, "Buongiorno")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var msg outboundTranscript
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Kind != "BotVoiceTranscription" || msg.Text != "Buongiorno" {
		t.Fatalf("transcript = %+v", msg)
	}
}
