package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const apiVersion = "2025-05-01-preview"

// DialConfig carries everything needed to open one engine connection.
type DialConfig struct {
	// Endpoint is the engine's HTTPS base URL.
	Endpoint string
	// Model is the realtime model deployment to attach to.
	Model string
	// APIKey authenticates with the engine's key header when set.
	APIKey string
	// BearerToken authenticates with an Authorization header when set. It
	// takes precedence over APIKey.
	BearerToken string
	// HandshakeTimeout bounds the websocket upgrade.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each outbound write. Zero disables the deadline.
	WriteTimeout time.Duration
}

func (c DialConfig) wsURL() (string, error) {
	base := strings.TrimSpace(c.Endpoint)
	if base == "" {
		return "", errors.New("engine endpoint not configured")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse engine endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "wss", "ws":
	default:
		return "", fmt.Errorf("unsupported engine endpoint scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/voice-live/realtime"
	q := u.Query()
	q.Set("api-version", apiVersion)
	q.Set("model", c.Model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Conn is one live engine connection. Writes are serialized; reads belong to
// a single consumer.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
}

// Dialer opens engine connections from a fixed configuration.
type Dialer struct {
	cfg DialConfig
}

func NewDialer(cfg DialConfig) *Dialer {
	return &Dialer{cfg: cfg}
}

// Dial opens and upgrades one engine connection. There is no retry: a failed
// dial fails the session that requested it.
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	wsURL, err := d.cfg.wsURL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("x-ms-client-request-id", uuid.NewString())
	switch {
	case d.cfg.BearerToken != "":
		header.Set("Authorization", "Bearer "+d.cfg.BearerToken)
	case d.cfg.APIKey != "":
		header.Set("api-key", d.cfg.APIKey)
	default:
		return nil, errors.New("engine credentials not configured")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial engine: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial engine: %w", err)
	}
	return &Conn{ws: ws, writeTimeout: d.cfg.WriteTimeout}, nil
}

// WriteMessage sends one client message as JSON.
func (c *Conn) WriteMessage(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteJSON(v)
}

// ReadEvent blocks for the next engine event. Decode failures of a single
// event return an error wrapping ErrMalformedEvent and leave the stream
// usable; transport failures are terminal.
func (c *Conn) ReadEvent() (Event, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read engine event: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return DecodeEvent(data)
	}
}

// Close tears down the underlying websocket.
func (c *Conn) Close() error {
	return c.ws.Close()
}
