// Package bridge turns a fire-and-forget broadcast channel into a
// request/response channel between peers.
//
// A Bridge is identified by a communication id. It listens on its transport
// from construction until Destroy, ignores traffic that is not addressed to
// its protocol or that comes from senders outside its allow-list, answers
// inbound requests with registered handlers, and correlates responses to its
// own outstanding calls. Before the first correlated call a bounded-retry
// handshake establishes that a peer is listening.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dayuer/msgbridge-go/internal/envelope"
	"github.com/dayuer/msgbridge-go/internal/logging"
	"github.com/dayuer/msgbridge-go/internal/transport"
)

const (
	DefaultRequestTimeout         = 30 * time.Second
	DefaultHandshakeTimeout       = 500 * time.Millisecond
	DefaultHandshakeRetryInterval = time.Second
	DefaultMaxHandshakeAttempts   = 10

	inboxSize = 256
)

// Options configures a Bridge. Zero values take the defaults.
type Options struct {
	AllowedIDs             []string
	MessageType            string
	RequestTimeout         time.Duration
	HandshakeTimeout       time.Duration // per attempt
	HandshakeRetryInterval time.Duration // delay between failed attempts
	MaxHandshakeAttempts   int
	Logger                 *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.MessageType == "" {
		o.MessageType = envelope.DefaultMessageType
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.HandshakeRetryInterval <= 0 {
		o.HandshakeRetryInterval = DefaultHandshakeRetryInterval
	}
	if o.MaxHandshakeAttempts <= 0 {
		o.MaxHandshakeAttempts = DefaultMaxHandshakeAttempts
	}
	return o
}

// Bridge is one endpoint of the request/response channel.
type Bridge struct {
	id        string
	opts      Options
	transport transport.Transport
	log       zerolog.Logger

	calls    *callTable
	handlers *handlerRegistry

	allowMu sync.RWMutex
	allowed map[string]struct{}

	hsMu     sync.Mutex
	state    State
	attempts int
	run      *handshakeRun
	retry    *time.Timer

	inbox       chan []byte
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	closeOnce   sync.Once
}

// New creates a bridge for communicationID and starts listening on t.
func New(communicationID string, t transport.Transport, opts Options) (*Bridge, error) {
	if strings.TrimSpace(communicationID) == "" {
		return nil, errors.New("bridge: communication id required")
	}
	if t == nil {
		return nil, errors.New("bridge: transport required")
	}
	opts = opts.withDefaults()

	logger := logging.Component("bridge")
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "bridge").Logger()
	}

	b := &Bridge{
		id:        communicationID,
		opts:      opts,
		transport: t,
		log:       logger.With().Str("bridge", communicationID).Logger(),
		calls:     newCallTable(),
		handlers:  newHandlerRegistry(),
		allowed:   make(map[string]struct{}),
		state:     StateNotReady,
		inbox:     make(chan []byte, inboxSize),
	}
	for _, id := range opts.AllowedIDs {
		b.allowed[id] = struct{}{}
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())

	go b.loop()
	b.unsubscribe = t.Subscribe(b.receive)
	return b, nil
}

// ID returns the bridge's communication id.
func (b *Bridge) ID() string { return b.id }

// Send broadcasts a fire-and-forget request. No response is expected and the
// handshake is not awaited.
func (b *Bridge) Send(action string, data any) error {
	if err := b.checkAction(action); err != nil {
		return err
	}
	if b.closed() {
		return ErrConnectionClosed
	}
	req, err := envelope.NewRequest(b.opts.MessageType, b.id, action, data, false)
	if err != nil {
		return fmt.Errorf("bridge: encode %q: %w", action, err)
	}
	return b.post(req)
}

// Invoke waits for readiness, sends a correlated request and blocks until the
// peer answers, the request timeout elapses, ctx is done, or the bridge is
// destroyed.
func (b *Bridge) Invoke(ctx context.Context, action string, data any) (json.RawMessage, error) {
	if err := b.checkAction(action); err != nil {
		return nil, err
	}
	if b.closed() {
		return nil, ErrConnectionClosed
	}
	if err := b.WaitReady(ctx); err != nil {
		return nil, err
	}
	return b.call(ctx, action, data, b.opts.RequestTimeout)
}

// Handle registers fn for action and returns a func that removes exactly this
// registration. Registering an action again replaces the earlier handler.
func (b *Bridge) Handle(action string, fn HandlerFunc) (func(), error) {
	if err := b.checkAction(action); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, errors.New("bridge: nil handler")
	}
	if b.closed() {
		return nil, ErrConnectionClosed
	}
	return b.handlers.register(action, fn), nil
}

// AddAllowedID admits messages from id. Once the allow-list is non-empty,
// only listed senders are processed.
func (b *Bridge) AddAllowedID(id string) {
	b.allowMu.Lock()
	b.allowed[id] = struct{}{}
	b.allowMu.Unlock()
}

// RemoveAllowedID removes id from the allow-list.
func (b *Bridge) RemoveAllowedID(id string) {
	b.allowMu.Lock()
	delete(b.allowed, id)
	b.allowMu.Unlock()
}

// IsAllowedID reports whether messages from id are processed. Every id is
// allowed while the list is empty.
func (b *Bridge) IsAllowedID(id string) bool {
	b.allowMu.RLock()
	defer b.allowMu.RUnlock()
	if len(b.allowed) == 0 {
		return true
	}
	_, ok := b.allowed[id]
	return ok
}

func (b *Bridge) allowedIDs() []string {
	b.allowMu.RLock()
	defer b.allowMu.RUnlock()
	out := make([]string, 0, len(b.allowed))
	for id := range b.allowed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats returns a snapshot of the bridge's state.
func (b *Bridge) Stats() map[string]any {
	return map[string]any{
		"communicationId": b.id,
		"messageType":     b.opts.MessageType,
		"state":           string(b.State()),
		"pendingCalls":    b.calls.len(),
		"handlers":        b.handlers.actions(),
		"allowedIds":      b.allowedIDs(),
		"destroyed":       b.closed(),
	}
}

// Destroy stops listening, fails the in-flight handshake and every pending
// call with ErrConnectionClosed, and clears all handlers. Safe to call more
// than once and from any goroutine, including a handler.
func (b *Bridge) Destroy() {
	b.closeOnce.Do(func() {
		b.cancel()
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		b.abortHandshake(ErrConnectionClosed)
		b.handlers.clear()
		if n := b.calls.clear(ErrConnectionClosed); n > 0 {
			b.log.Debug().Int("pending", n).Msg("failed pending calls on destroy")
		}
		b.log.Debug().Msg("destroyed")
	})
}

func (b *Bridge) closed() bool {
	return b.ctx.Err() != nil
}

func (b *Bridge) checkAction(action string) error {
	if action == "" {
		return ErrEmptyAction
	}
	if action == envelope.HandshakeAction {
		return fmt.Errorf("%w: %s", ErrReservedAction, action)
	}
	return nil
}

// call sends a correlated request without waiting for readiness.
func (b *Bridge) call(ctx context.Context, action string, data any, timeout time.Duration) (json.RawMessage, error) {
	req, err := envelope.NewRequest(b.opts.MessageType, b.id, action, data, true)
	if err != nil {
		return nil, fmt.Errorf("bridge: encode %q: %w", action, err)
	}
	done, err := b.calls.register(req.ID, action, timeout)
	if err != nil {
		return nil, err
	}
	if err := b.post(req); err != nil {
		b.calls.forget(req.ID)
		return nil, err
	}

	select {
	case res := <-done:
		return res.data, res.err
	case <-ctx.Done():
		b.calls.forget(req.ID)
		return nil, ctx.Err()
	}
}

func (b *Bridge) post(msg any) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bridge: marshal envelope: %w", err)
	}
	if err := b.transport.Send(frame); err != nil {
		return fmt.Errorf("bridge: send: %w", err)
	}
	return nil
}
