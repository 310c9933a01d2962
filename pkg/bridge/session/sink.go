package session

import (
	"encoding/base64"
	"fmt"

	"github.com/altavoce/voicebridge/pkg/bridge/transport"
)

// FrameWriter sends raw frames to the attached client connection. Writes
// must be safe for concurrent use; the handler wraps the websocket with a
// mutex.
type FrameWriter interface {
	WriteText(data []byte) error
	WriteBinary(data []byte) error
}

// Sink delivers engine output downstream in the transport's own framing.
// StopAudio bypasses the outbound dispatcher entirely; it must reach the
// client ahead of any audio still in flight.
type Sink interface {
	WriteAudio(audioB64 string) error
	WriteTranscript(kind transport.TranscriptKind, text string) error
	StopAudio() error
}

// BrowserSink frames engine output for the browser transport: audio as raw
// binary PCM, transcripts and stop signals as labeled JSON.
type BrowserSink struct {
	w FrameWriter
}

func NewBrowserSink(w FrameWriter) *BrowserSink {
	return &BrowserSink{w: w}
}

func (s *BrowserSink) WriteAudio(audioB64 string) error {
	pcm, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		return fmt.Errorf("decode audio delta: %w", err)
	}
	return s.w.WriteBinary(pcm)
}

func (s *BrowserSink) WriteTranscript(kind transport.TranscriptKind, text string) error {
	data, err := transport.EncodeTranscript(kind, text)
	if err != nil {
		return err
	}
	return s.w.WriteText(data)
}

func (s *BrowserSink) StopAudio() error {
	data, err := transport.EncodeTelephoneStop()
	if err != nil {
		return err
	}
	return s.w.WriteText(data)
}

// TelephoneSink frames engine output for the telephone media stream. Voice
// transcripts are dropped; the carrier only consumes audio envelopes, stop
// signals and final bot text.
type TelephoneSink struct {
	w FrameWriter
}

func NewTelephoneSink(w FrameWriter) *TelephoneSink {
	return &TelephoneSink{w: w}
}

func (s *TelephoneSink) WriteAudio(audioB64 string) error {
	data, err := transport.EncodeTelephoneAudio(audioB64)
	if err != nil {
		return err
	}
	return s.w.WriteText(data)
}

func (s *TelephoneSink) WriteTranscript(kind transport.TranscriptKind, text string) error {
	if kind != transport.TranscriptText {
		return nil
	}
	data, err := transport.EncodeTranscript(kind, text)
	if err != nil {
		return err
	}
	return s.w.WriteText(data)
}

func (s *TelephoneSink) StopAudio() error {
	data, err := transport.EncodeTelephoneStop()
	if err != nil {
		return err
	}
	return s.w.WriteText(data)
}
