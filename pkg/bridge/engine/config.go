package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionUpdate configures the engine session. It is sent once before any
// audio and again when the client replaces the instructions mid-session.
type SessionUpdate struct {
	Type    string  `json:"type"`
	Session Session `json:"session"`
}

// Session is the session body of a session.update message.
type Session struct {
	Modalities               []string        `json:"modalities,omitempty"`
	Instructions             string          `json:"instructions,omitempty"`
	TurnDetection            *TurnDetection  `json:"turn_detection,omitempty"`
	InputAudioNoiseReduction *NamedSetting   `json:"input_audio_noise_reduction,omitempty"`
	InputAudioEchoCancel     *NamedSetting   `json:"input_audio_echo_cancellation,omitempty"`
	Voice                    *Voice          `json:"voice,omitempty"`
	Tools                    []Tool          `json:"tools,omitempty"`
	ToolChoice               string          `json:"tool_choice,omitempty"`
	InputAudioTranscription  *TranscribeOpts `json:"input_audio_transcription,omitempty"`
}

// TurnDetection tunes the engine's server-side voice activity detector.
type TurnDetection struct {
	Type                 string                  `json:"type"`
	Threshold            float64                 `json:"threshold"`
	PrefixPaddingMS      int                     `json:"prefix_padding_ms"`
	SilenceDurationMS    int                     `json:"silence_duration_ms"`
	RemoveFillerWords    bool                    `json:"remove_filler_words"`
	EndOfUtteranceDetect *EndOfUtteranceDetector `json:"end_of_utterance_detection,omitempty"`
}

// EndOfUtteranceDetector enables semantic end-of-turn detection.
type EndOfUtteranceDetector struct {
	Model     string  `json:"model"`
	Threshold float64 `json:"threshold"`
	TimeoutS  float64 `json:"timeout"`
}

// NamedSetting is a setting selected by type name.
type NamedSetting struct {
	Type string `json:"type"`
}

// Voice selects the synthesis voice.
type Voice struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Temperature float64 `json:"temperature"`
}

// TranscribeOpts selects the caller-speech transcription model.
type TranscribeOpts struct {
	Model string `json:"model"`
}

// Tool declares a function the model may call.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// SearchToolName is the single function exposed to the model.
const SearchToolName = "search_pharmacy_database"

// SearchTool returns the knowledge-search function declaration.
func SearchTool() Tool {
	return Tool{
		Type: "function",
		Name: SearchToolName,
		Description: "Cerca informazioni nel database della farmacia: prodotti, " +
			"farmaci, servizi, orari e disponibilità.",
		Parameters: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"La ricerca da effettuare nel database della farmacia"}},"required":["query"]}`),
	}
}

// ConfigOptions selects the variable parts of the session configuration.
// Building twice with equal options yields identical messages.
type ConfigOptions struct {
	// Instructions replaces the default system prompt when non-empty.
	Instructions string
	// Date anchors the temporal context embedded in the default prompt.
	Date time.Time
	// EnableSearch adds the knowledge-search tool declaration.
	EnableSearch bool
}

// DefaultInstructions is the assistant prompt used when the client supplies
// none.
func DefaultInstructions(date time.Time) string {
	return fmt.Sprintf(
		"Sei l'assistente vocale di una farmacia italiana. Rispondi sempre in "+
			"italiano, con frasi brevi e chiare adatte alla sintesi vocale. "+
			"Oggi è %s. Usa lo strumento di ricerca per domande su prodotti, "+
			"farmaci, servizi, orari e disponibilità. Non inventare informazioni: "+
			"se la ricerca non trova nulla, dillo apertamente e suggerisci di "+
			"contattare direttamente la farmacia. Non fornire diagnosi mediche; "+
			"per questioni di salute invita a consultare il farmacista o un medico.",
		date.Format("2006-01-02"),
	)
}

// NewSessionConfig builds the deterministic session.update sent at session
// start.
func NewSessionConfig(opts ConfigOptions) SessionUpdate {
	instructions := opts.Instructions
	if instructions == "" {
		instructions = DefaultInstructions(opts.Date)
	}

	body := Session{
		Modalities:   []string{"text", "audio"},
		Instructions: instructions,
		TurnDetection: &TurnDetection{
			Type:              "azure_semantic_vad",
			Threshold:         0.3,
			PrefixPaddingMS:   200,
			SilenceDurationMS: 200,
			RemoveFillerWords: false,
			EndOfUtteranceDetect: &EndOfUtteranceDetector{
				Model:     "semantic_detection_v1",
				Threshold: 0.01,
				TimeoutS:  2,
			},
		},
		InputAudioNoiseReduction: &NamedSetting{Type: "azure_deep_noise_suppression"},
		InputAudioEchoCancel:     &NamedSetting{Type: "server_echo_cancellation"},
		Voice: &Voice{
			Name:        "it-IT-IsabellaMultilingualNeural",
			Type:        "azure-standard",
			Temperature: 0.8,
		},
		InputAudioTranscription: &TranscribeOpts{Model: "whisper-1"},
	}

	if opts.EnableSearch {
		body.Tools = []Tool{SearchTool()}
		body.ToolChoice = "auto"
	}

	return SessionUpdate{Type: "session.update", Session: body}
}

// NewInstructionsUpdate builds the mid-session instruction replacement.
func NewInstructionsUpdate(instructions string) SessionUpdate {
	return SessionUpdate{
		Type:    "session.update",
		Session: Session{Instructions: instructions},
	}
}
