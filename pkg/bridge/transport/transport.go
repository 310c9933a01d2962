package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the transport attached to a session.
type Kind string

const (
	KindBrowser   Kind = "browser"
	KindTelephone Kind = "telephone"
)

// FrameType classifies a decoded inbound frame.
type FrameType int

const (
	// FrameAudio carries one chunk of caller audio, already base64-encoded
	// for the engine's audio-append message.
	FrameAudio FrameType = iota
	// FrameUserText carries a typed user message.
	FrameUserText
	// FrameInstructions carries a replacement for the session's system
	// instructions.
	FrameInstructions
)

// Frame is the neutral representation of an inbound transport message.
type Frame struct {
	Type         FrameType
	AudioB64     string
	Text         string
	Instructions string
}

// ErrSilentAudio marks telephone audio frames flagged silent by the carrier.
// They are dropped without reaching the engine.
var ErrSilentAudio = errors.New("silent audio frame")

// DecodeError reports an inbound message the codec could not classify. The
// caller logs it and drops the frame; it never terminates the session.
type DecodeError struct {
	Message string
	Type    string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Type) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (type %q)", e.Message, e.Type)
}

func unrecognized(message, msgType string) *DecodeError {
	return &DecodeError{Message: message, Type: msgType}
}

type browserContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type browserItem struct {
	Type    string           `json:"type"`
	Role    string           `json:"role"`
	Content []browserContent `json:"content"`
}

type browserMessage struct {
	Type         string          `json:"type"`
	Audio        string          `json:"audio"`
	Instructions string          `json:"instructions"`
	Item         *browserItem    `json:"item"`
	Input        *browserContent `json:"input"`
}

// DecodeBrowserBinary wraps a raw PCM chunk from the browser microphone as an
// audio frame.
func DecodeBrowserBinary(data []byte) Frame {
	return Frame{
		Type:     FrameAudio,
		AudioB64: base64.StdEncoding.EncodeToString(data),
	}
}

// DecodeBrowserText decodes a JSON control message from the browser
// transport. Both historical text-message shapes (top-level "input" and
// "item.content") map to the same user-text frame.
func DecodeBrowserText(data []byte) (Frame, error) {
	var msg browserMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Frame{}, unrecognized("invalid json frame", "")
	}

	switch msg.Type {
	case "input_audio_buffer.append":
		if msg.Audio == "" {
			return Frame{}, unrecognized("audio append without audio payload", msg.Type)
		}
		return Frame{Type: FrameAudio, AudioB64: msg.Audio}, nil

	case "conversation.item.create":
		if msg.Input != nil && msg.Input.Type == "input_text" && msg.Input.Text != "" {
			return Frame{Type: FrameUserText, Text: msg.Input.Text}, nil
		}
		if msg.Item != nil && msg.Item.Type == "message" {
			for _, content := range msg.Item.Content {
				if content.Type == "input_text" && content.Text != "" {
					return Frame{Type: FrameUserText, Text: content.Text}, nil
				}
			}
		}
		return Frame{}, unrecognized("item create without input text", msg.Type)

	case "session.update_instructions":
		if strings.TrimSpace(msg.Instructions) == "" {
			return Frame{}, unrecognized("instruction update without instructions", msg.Type)
		}
		return Frame{Type: FrameInstructions, Instructions: msg.Instructions}, nil

	default:
		return Frame{}, unrecognized("unrecognized message", msg.Type)
	}
}

type telephoneAudioData struct {
	Data   string `json:"data"`
	Silent bool   `json:"silent"`
}

type telephoneMessage struct {
	Kind      string              `json:"kind"`
	AudioData *telephoneAudioData `json:"audioData"`
}

// DecodeTelephoneText decodes one framed JSON message from the telephone
// media stream. Frames the carrier marks silent yield ErrSilentAudio.
func DecodeTelephoneText(data []byte) (Frame, error) {
	var msg telephoneMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Frame{}, unrecognized("invalid json frame", "")
	}
	if msg.Kind != "AudioData" {
		return Frame{}, unrecognized("unrecognized message", msg.Kind)
	}
	if msg.AudioData == nil || msg.AudioData.Data == "" {
		return Frame{}, unrecognized("audio frame without data", msg.Kind)
	}
	if msg.AudioData.Silent {
		return Frame{}, ErrSilentAudio
	}
	return Frame{Type: FrameAudio, AudioB64: msg.AudioData.Data}, nil
}

// TranscriptKind labels a transcript message sent back to the transport.
type TranscriptKind string

const (
	TranscriptUser TranscriptKind = "UserVoiceTranscription"
	TranscriptBot  TranscriptKind = "BotVoiceTranscription"
	TranscriptText TranscriptKind = "BotResponse"
)

type outboundAudio struct {
	Data string `json:"Data"`
}

type outboundEnvelope struct {
	Kind      string         `json:"Kind"`
	AudioData *outboundAudio `json:"AudioData"`
	StopAudio *struct{}      `json:"StopAudio"`
}

// EncodeTelephoneAudio wraps one base64 audio chunk in the telephone
// transport's playback envelope.
func EncodeTelephoneAudio(b64 string) ([]byte, error) {
	return json.Marshal(outboundEnvelope{
		Kind:      "AudioData",
		AudioData: &outboundAudio{Data: b64},
	})
}

// EncodeTelephoneStop builds the barge-in stop signal for the telephone
// transport.
func EncodeTelephoneStop() ([]byte, error) {
	return json.Marshal(outboundEnvelope{
		Kind:      "StopAudio",
		StopAudio: &struct{}{},
	})
}

type outboundTranscript struct {
	Kind string `json:"Kind"`
	Text string `json:"Text"`
}

// EncodeTranscript builds a labeled transcript message for either transport.
func EncodeTranscript(kind TranscriptKind, text string) ([]byte, error) {
	return json.Marshal(outboundTranscript{Kind: string(kind), Text: text})
}
