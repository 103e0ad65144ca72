package bridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type callResult struct {
	data json.RawMessage
	err  error
}

type pendingCall struct {
	action string
	done   chan callResult
	timer  *time.Timer
}

// callTable correlates outstanding request ids with their waiting callers.
// An entry is removed before its result is delivered, so a late or duplicate
// response for the same id finds nothing.
type callTable struct {
	mu     sync.Mutex
	calls  map[string]*pendingCall
	closed error // set by clear; later registrations fail with it
}

func newCallTable() *callTable {
	return &callTable{calls: make(map[string]*pendingCall)}
}

// register creates the entry for id and arms its timeout.
func (t *callTable) register(id, action string, timeout time.Duration) (<-chan callResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed != nil {
		return nil, t.closed
	}
	if _, exists := t.calls[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCall, id)
	}
	call := &pendingCall{
		action: action,
		done:   make(chan callResult, 1),
	}
	call.timer = time.AfterFunc(timeout, func() {
		t.fail(id, fmt.Errorf("%w: %q after %s", ErrRequestTimeout, action, timeout))
	})
	t.calls[id] = call
	return call.done, nil
}

func (t *callTable) take(id string) *pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.calls[id]
	if !ok {
		return nil
	}
	delete(t.calls, id)
	call.timer.Stop()
	return call
}

// resolve completes the call for requestID from a response envelope. Unknown
// ids are dropped and reported as false.
func (t *callTable) resolve(requestID string, success bool, data json.RawMessage, errText string) bool {
	call := t.take(requestID)
	if call == nil {
		return false
	}
	if success {
		call.done <- callResult{data: data}
		return true
	}
	if errText == "" {
		errText = "unknown error"
	}
	call.done <- callResult{err: &RemoteError{Action: call.action, Message: errText}}
	return true
}

// fail completes the call for id with err.
func (t *callTable) fail(id string, err error) bool {
	call := t.take(id)
	if call == nil {
		return false
	}
	call.done <- callResult{err: err}
	return true
}

// forget removes the entry for id without completing it.
func (t *callTable) forget(id string) {
	t.take(id)
}

// clear fails every pending call with err and closes the table: any later
// register returns err.
func (t *callTable) clear(err error) int {
	t.mu.Lock()
	t.closed = err
	calls := t.calls
	t.calls = make(map[string]*pendingCall)
	t.mu.Unlock()

	for _, call := range calls {
		call.timer.Stop()
		call.done <- callResult{err: err}
	}
	return len(calls)
}

func (t *callTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
