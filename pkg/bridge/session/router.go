package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/altavoce/voicebridge/pkg/bridge/engine"
	"github.com/altavoce/voicebridge/pkg/bridge/transport"
)

// routeEvents is the session's upstream consumer. It reads engine events
// until the connection dies or the session context ends. Individually
// malformed events are logged and skipped; they never cost the session.
func (s *Session) routeEvents(ctx context.Context, conn EngineConn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, err := conn.ReadEvent()
		if err != nil {
			if errors.Is(err, engine.ErrMalformedEvent) {
				s.logger.Warn("skipping malformed engine event", "error", err)
				continue
			}
			return err
		}
		if err := s.handleEvent(ctx, ev); err != nil {
			return err
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, ev engine.Event) error {
	switch ev := ev.(type) {
	case engine.SessionCreatedEvent:
		s.mu.Lock()
		if s.state == StateConfiguring {
			s.state = StateActive
		}
		s.mu.Unlock()
		s.logger.Info("engine session ready", "engine_session_id", ev.SessionID)
		return nil

	case engine.ResponseCreatedEvent:
		s.responseInProgress.Store(true)
		return nil

	case engine.ResponseDoneEvent:
		s.responseInProgress.Store(false)
		s.logger.Debug("response finished", "response_id", ev.ResponseID, "status", ev.Status)
		return nil

	case engine.SpeechStartedEvent:
		// Barge-in: the caller spoke over an in-flight response. The stop
		// signal goes straight to the transport, ahead of any queued audio.
		if s.responseInProgress.Swap(false) {
			s.logger.Debug("barge-in detected", "audio_start_ms", ev.AudioStartMS)
			if err := s.sink.StopAudio(); err != nil {
				return fmt.Errorf("send stop signal: %w", err)
			}
		}
		return nil

	case engine.SpeechStoppedEvent:
		s.logger.Debug("caller speech stopped")
		return nil

	case engine.InputAudioClearedEvent:
		s.logger.Debug("input audio buffer cleared")
		return nil

	case engine.UserTranscriptEvent:
		if ev.Transcript == "" {
			return nil
		}
		return s.sink.WriteTranscript(transport.TranscriptUser, ev.Transcript)

	case engine.UserTranscriptFailedEvent:
		s.logger.Warn("caller transcription failed", "code", ev.Code, "error", ev.Message)
		return nil

	case engine.BotTranscriptEvent:
		if ev.Transcript == "" {
			return nil
		}
		return s.sink.WriteTranscript(transport.TranscriptBot, ev.Transcript)

	case engine.AudioDeltaEvent:
		return s.sink.WriteAudio(ev.DeltaB64)

	case engine.ItemCompletedEvent:
		if text, ok := ev.AssistantText(); ok {
			return s.sink.WriteTranscript(transport.TranscriptText, text)
		}
		return nil

	case engine.ToolCallEvent:
		inv := ToolInvocation{CallID: ev.CallID, Name: ev.Name, Arguments: ev.Arguments}
		// Run the round trip off the router so events keep flowing while
		// the search is in flight.
		s.goTask("tool "+inv.CallID, func(ctx context.Context) error {
			s.coord.Execute(ctx, inv)
			return nil
		})
		return nil

	case engine.ErrorEvent:
		s.logger.Error("engine reported error", "code", ev.Code, "error", ev.Message)
		return nil

	case engine.UnknownEvent:
		s.logger.Debug("ignoring engine event", "type", ev.Type)
		return nil

	default:
		s.logger.Debug("ignoring engine event", "type", fmt.Sprintf("%T", ev))
		return nil
	}
}
