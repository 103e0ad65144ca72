package bridge

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// HandlerFunc serves one action. It may return at once or block until an
// asynchronous result is available; the bridge treats both the same way.
// The context is cancelled when the bridge is destroyed.
type HandlerFunc func(ctx context.Context, data json.RawMessage) (any, error)

type handlerEntry struct {
	action string
	fn     HandlerFunc
}

// handlerRegistry maps action names to handlers, one per action.
type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]*handlerEntry
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{handlers: make(map[string]*handlerEntry)}
}

// register installs fn for action, replacing any previous handler. The
// returned func removes this registration only; it does nothing once the
// action has been re-registered.
func (r *handlerRegistry) register(action string, fn HandlerFunc) func() {
	entry := &handlerEntry{action: action, fn: fn}

	r.mu.Lock()
	r.handlers[action] = entry
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.handlers[action] == entry {
			delete(r.handlers, action)
		}
	}
}

func (r *handlerRegistry) lookup(action string) HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.handlers[action]; ok {
		return entry.fn
	}
	return nil
}

func (r *handlerRegistry) actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for action := range r.handlers {
		out = append(out, action)
	}
	sort.Strings(out)
	return out
}

func (r *handlerRegistry) clear() {
	r.mu.Lock()
	r.handlers = make(map[string]*handlerEntry)
	r.mu.Unlock()
}
