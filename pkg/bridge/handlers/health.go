package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/altavoce/voicebridge/pkg/bridge/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		SearchEnabled  bool     `json:"search_enabled"`
		ConvlogEnabled bool     `json:"convlog_enabled"`
		LimitsEnabled  bool     `json:"limits_enabled"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if strings.TrimSpace(h.Config.EngineEndpoint) == "" {
		issues = append(issues, "engine endpoint not configured")
	}
	if h.Config.EngineAPIKey == "" && h.Config.EngineBearerToken == "" {
		issues = append(issues, "engine credentials not configured")
	}
	if h.Config.EngineHandshakeTimeout <= 0 {
		issues = append(issues, "engine handshake timeout must be > 0")
	}
	if h.Config.OutboundQueueSize <= 0 {
		issues = append(issues, "outbound queue size must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ShutdownGracePeriod <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	limitsEnabled := (h.Config.LimitSessionsPerSecond > 0 && h.Config.LimitBurst > 0) ||
		h.Config.LimitMaxConcurrent > 0

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             ok,
		SearchEnabled:  h.Config.SearchEnabled(),
		ConvlogEnabled: strings.TrimSpace(h.Config.ConvlogDatabaseURL) != "",
		LimitsEnabled:  limitsEnabled,
		Issues:         issues,
	})
}
