package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// CallEventsHandler receives the telephony provider's event webhook. It
// answers the subscription validation handshake and acknowledges call
// lifecycle events; the media itself arrives separately on /media.
type CallEventsHandler struct {
	Logger *slog.Logger
}

type callEvent struct {
	EventType string `json:"eventType"`
	Data      struct {
		ValidationCode string `json:"validationCode"`
		CorrelationID  string `json:"correlationId"`
		ServerCallID   string `json:"serverCallId"`
		From           struct {
			RawID string `json:"rawId"`
		} `json:"from"`
	} `json:"data"`
}

func (h CallEventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var events []callEvent
	if err := json.Unmarshal(body, &events); err != nil {
		// Some providers deliver single objects instead of arrays.
		var single callEvent
		if err := json.Unmarshal(body, &single); err != nil {
			http.Error(w, "invalid event payload", http.StatusBadRequest)
			return
		}
		events = []callEvent{single}
	}

	for _, ev := range events {
		switch ev.EventType {
		case "Microsoft.EventGrid.SubscriptionValidationEvent":
			h.Logger.Info("answering subscription validation")
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"validationResponse": ev.Data.ValidationCode,
			})
			return

		case "Microsoft.Communication.IncomingCall":
			h.Logger.Info("incoming call",
				"correlation_id", ev.Data.CorrelationID,
				"from", ev.Data.From.RawID,
			)

		case "Microsoft.Communication.CallConnected",
			"Microsoft.Communication.CallDisconnected":
			h.Logger.Info("call lifecycle event",
				"event_type", ev.EventType,
				"server_call_id", ev.Data.ServerCallID,
			)

		default:
			h.Logger.Debug("ignoring call event", "event_type", ev.EventType)
		}
	}

	w.WriteHeader(http.StatusOK)
}
