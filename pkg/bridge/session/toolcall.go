package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/altavoce/voicebridge/pkg/bridge/engine"
)

// Searcher answers one knowledge query with model-facing text.
type Searcher interface {
	Lookup(ctx context.Context, query string) (string, error)
}

// ToolInvocation is one pending function call from the model. Values are
// passed by copy and resolved exactly once.
type ToolInvocation struct {
	CallID    string
	Name      string
	Arguments string
}

type pendingCall struct {
	cancel context.CancelFunc
	once   sync.Once
}

// Coordinator executes tool calls and feeds their results back through the
// outbound dispatcher. The output item and the follow-up response.create are
// enqueued as one batch, so no other outbound message can land between them.
type Coordinator struct {
	search   Searcher
	dispatch *Dispatcher
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall
}

func NewCoordinator(search Searcher, dispatch *Dispatcher, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Coordinator{
		search:   search,
		dispatch: dispatch,
		timeout:  timeout,
		logger:   logger,
		pending:  make(map[string]*pendingCall),
	}
}

// Execute runs one invocation to completion. Every path resolves the call
// exactly once: success, lookup failure, malformed arguments, unknown tool
// and cancellation all produce a function output followed by a
// response.create.
func (c *Coordinator) Execute(ctx context.Context, inv ToolInvocation) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	call := &pendingCall{cancel: cancel}
	c.mu.Lock()
	c.pending[inv.CallID] = call
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, inv.CallID)
		c.mu.Unlock()
	}()

	if inv.Name != engine.SearchToolName {
		c.logger.Warn("unknown tool requested", "call_id", inv.CallID, "tool", inv.Name)
		c.resolve(call, inv.CallID, fmt.Sprintf("Strumento %q non disponibile.", inv.Name))
		return
	}
	if c.search == nil {
		c.logger.Warn("tool call without configured search", "call_id", inv.CallID)
		c.resolve(call, inv.CallID, "Ricerca non disponibile al momento.")
		return
	}

	query, err := parseSearchArguments(inv.Arguments)
	if err != nil {
		c.logger.Warn("malformed tool arguments", "call_id", inv.CallID, "error", err)
		c.resolve(call, inv.CallID, "Errore durante la ricerca: argomenti non validi.")
		return
	}

	c.logger.Info("executing knowledge search", "call_id", inv.CallID, "query", query)
	output, err := c.search.Lookup(callCtx, query)
	if err != nil {
		if callCtx.Err() != nil {
			c.logger.Warn("knowledge search cancelled", "call_id", inv.CallID, "error", callCtx.Err())
			c.resolve(call, inv.CallID, "Errore durante la ricerca: richiesta annullata.")
			return
		}
		c.logger.Error("knowledge search failed", "call_id", inv.CallID, "error", err)
		c.resolve(call, inv.CallID, "Si è verificato un errore durante la ricerca. Riprova tra poco.")
		return
	}
	c.resolve(call, inv.CallID, output)
}

// CancelPending resolves every outstanding invocation with a cancellation
// output. Teardown calls it before stopping the dispatcher so no call is
// left unresolved.
func (c *Coordinator) CancelPending() {
	c.mu.Lock()
	calls := make(map[string]*pendingCall, len(c.pending))
	for id, call := range c.pending {
		calls[id] = call
	}
	c.mu.Unlock()

	for id, call := range calls {
		call.cancel()
		c.resolve(call, id, "Errore durante la ricerca: sessione terminata.")
	}
}

func (c *Coordinator) resolve(call *pendingCall, callID, output string) {
	call.once.Do(func() {
		err := c.dispatch.Enqueue(
			engine.NewToolOutputItem(callID, output),
			engine.NewResponseCreate(),
		)
		if err != nil {
			c.logger.Warn("tool output dropped", "call_id", callID, "error", err)
		}
	})
}

func parseSearchArguments(raw string) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return "", fmt.Errorf("empty query")
	}
	return query, nil
}
