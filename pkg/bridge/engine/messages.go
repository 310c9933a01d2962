package engine

// Client messages sent to the engine. The concrete structs marshal directly
// to the wire shape; constructors keep the type tags in one place.

// AudioAppend streams one base64 chunk of caller audio.
type AudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func NewAudioAppend(audioB64 string) AudioAppend {
	return AudioAppend{Type: "input_audio_buffer.append", Audio: audioB64}
}

// ResponseCreate asks the model to produce a response from the conversation
// so far.
type ResponseCreate struct {
	Type string `json:"type"`
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: "response.create"}
}

// ContentPart is one part of a conversation item's content.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Item is a conversation item created by the bridge.
type Item struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

// ItemCreate appends an item to the conversation.
type ItemCreate struct {
	Type string `json:"type"`
	Item Item   `json:"item"`
}

// NewUserTextItem builds a typed user message item.
func NewUserTextItem(text string) ItemCreate {
	return ItemCreate{
		Type: "conversation.item.create",
		Item: Item{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// NewToolOutputItem builds the function_call_output item resolving a tool
// call.
func NewToolOutputItem(callID, output string) ItemCreate {
	return ItemCreate{
		Type: "conversation.item.create",
		Item: Item{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}
