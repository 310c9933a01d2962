package engine

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event is one decoded message from the engine's event stream. The set of
// implementations is closed; routing code type-switches over it and treats
// UnknownEvent as the catch-all for types this build does not handle.
type Event interface {
	eventType() string
}

// ErrMalformedEvent wraps decode failures for individual events. The stream
// itself stays usable; callers log and skip.
var ErrMalformedEvent = errors.New("malformed engine event")

// SessionCreatedEvent acknowledges session setup.
type SessionCreatedEvent struct {
	SessionID string
}

// ResponseCreatedEvent marks the start of a model response.
type ResponseCreatedEvent struct{}

// ResponseDoneEvent marks the end of a model response.
type ResponseDoneEvent struct {
	ResponseID    string
	Status        string
	StatusDetails json.RawMessage
}

// SpeechStartedEvent reports that the engine's voice activity detector heard
// the caller start speaking.
type SpeechStartedEvent struct {
	AudioStartMS int64
}

// SpeechStoppedEvent reports the end of detected caller speech.
type SpeechStoppedEvent struct{}

// InputAudioClearedEvent acknowledges an input buffer clear.
type InputAudioClearedEvent struct{}

// UserTranscriptEvent carries the finished transcription of caller speech.
type UserTranscriptEvent struct {
	Transcript string
}

// UserTranscriptFailedEvent reports a failed caller transcription.
type UserTranscriptFailedEvent struct {
	Code    string
	Message string
}

// BotTranscriptEvent carries the transcript of synthesized bot speech.
type BotTranscriptEvent struct {
	Transcript string
}

// AudioDeltaEvent carries one base64 chunk of synthesized audio.
type AudioDeltaEvent struct {
	DeltaB64 string
}

// ItemCompletedEvent reports a completed conversation item.
type ItemCompletedEvent struct {
	ItemType string
	Role     string
	Texts    []string
}

// AssistantText returns the concatenable text of a completed assistant
// message, if the item carries one.
func (e ItemCompletedEvent) AssistantText() (string, bool) {
	if e.ItemType != "message" || e.Role != "assistant" || len(e.Texts) == 0 {
		return "", false
	}
	return e.Texts[0], true
}

// ToolCallEvent reports that the model finished streaming arguments for a
// function call and expects an output item in return.
type ToolCallEvent struct {
	CallID    string
	Name      string
	Arguments string
}

// ErrorEvent carries an error reported by the engine inside the stream.
type ErrorEvent struct {
	Code    string
	Message string
}

// UnknownEvent preserves events this build does not route.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (SessionCreatedEvent) eventType() string       { return "session.created" }
func (ResponseCreatedEvent) eventType() string      { return "response.created" }
func (ResponseDoneEvent) eventType() string         { return "response.done" }
func (SpeechStartedEvent) eventType() string        { return "input_audio_buffer.speech_started" }
func (SpeechStoppedEvent) eventType() string        { return "input_audio_buffer.speech_stopped" }
func (InputAudioClearedEvent) eventType() string    { return "input_audio_buffer.cleared" }
func (UserTranscriptEvent) eventType() string       { return "conversation.item.input_audio_transcription.completed" }
func (UserTranscriptFailedEvent) eventType() string { return "conversation.item.input_audio_transcription.failed" }
func (BotTranscriptEvent) eventType() string        { return "response.audio_transcript.done" }
func (AudioDeltaEvent) eventType() string           { return "response.audio.delta" }
func (ItemCompletedEvent) eventType() string        { return "conversation.item.completed" }
func (ToolCallEvent) eventType() string             { return "response.function_call_arguments.done" }
func (ErrorEvent) eventType() string                { return "error" }
func (e UnknownEvent) eventType() string            { return e.Type }

type eventEnvelope struct {
	Type string `json:"type"`

	Session *struct {
		ID string `json:"id"`
	} `json:"session"`

	Response *struct {
		ID            string          `json:"id"`
		Status        string          `json:"status"`
		StatusDetails json.RawMessage `json:"status_details"`
	} `json:"response"`

	Item *struct {
		Type    string `json:"type"`
		Role    string `json:"role"`
		Content []struct {
			Type       string `json:"type"`
			Text       string `json:"text"`
			Transcript string `json:"transcript"`
		} `json:"content"`
	} `json:"item"`

	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`

	AudioStartMS int64  `json:"audio_start_ms"`
	Transcript   string `json:"transcript"`
	Delta        string `json:"delta"`
	CallID       string `json:"call_id"`
	Name         string `json:"name"`
	Arguments    string `json:"arguments"`
}

// DecodeEvent parses one raw engine message into its typed event.
func DecodeEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	switch env.Type {
	case "session.created":
		ev := SessionCreatedEvent{}
		if env.Session != nil {
			ev.SessionID = env.Session.ID
		}
		return ev, nil

	case "response.created":
		return ResponseCreatedEvent{}, nil

	case "response.done":
		ev := ResponseDoneEvent{}
		if env.Response != nil {
			ev.ResponseID = env.Response.ID
			ev.Status = env.Response.Status
			ev.StatusDetails = env.Response.StatusDetails
		}
		return ev, nil

	case "input_audio_buffer.speech_started":
		return SpeechStartedEvent{AudioStartMS: env.AudioStartMS}, nil

	case "input_audio_buffer.speech_stopped":
		return SpeechStoppedEvent{}, nil

	case "input_audio_buffer.cleared":
		return InputAudioClearedEvent{}, nil

	case "conversation.item.input_audio_transcription.completed":
		return UserTranscriptEvent{Transcript: env.Transcript}, nil

	case "conversation.item.input_audio_transcription.failed":
		ev := UserTranscriptFailedEvent{}
		if env.Error != nil {
			ev.Code = env.Error.Code
			ev.Message = env.Error.Message
		}
		return ev, nil

	case "response.audio_transcript.done":
		return BotTranscriptEvent{Transcript: env.Transcript}, nil

	case "response.audio.delta":
		if env.Delta == "" {
			return nil, fmt.Errorf("%w: audio delta without payload", ErrMalformedEvent)
		}
		return AudioDeltaEvent{DeltaB64: env.Delta}, nil

	case "conversation.item.completed":
		ev := ItemCompletedEvent{}
		if env.Item != nil {
			ev.ItemType = env.Item.Type
			ev.Role = env.Item.Role
			for _, content := range env.Item.Content {
				if content.Type == "text" && content.Text != "" {
					ev.Texts = append(ev.Texts, content.Text)
				}
			}
		}
		return ev, nil

	case "response.function_call_arguments.done":
		if env.CallID == "" {
			return nil, fmt.Errorf("%w: function call without call_id", ErrMalformedEvent)
		}
		return ToolCallEvent{CallID: env.CallID, Name: env.Name, Arguments: env.Arguments}, nil

	case "error":
		ev := ErrorEvent{}
		if env.Error != nil {
			ev.Code = env.Error.Code
			ev.Message = env.Error.Message
		}
		return ev, nil

	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return UnknownEvent{Type: env.Type, Raw: raw}, nil
	}
}
