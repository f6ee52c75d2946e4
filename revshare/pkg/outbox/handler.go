package outbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Handler consumes one event. Delivery is at-least-once, so handlers must
// tolerate seeing the same event again.
type Handler func(ctx context.Context, ev Event) error

// Registry routes events to handlers by type.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(eventType string, h Handler) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return ErrEventTypeRequired
	}
	if h == nil {
		return ErrEventHandlerRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[eventType]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerRegistered, eventType)
	}
	r.handlers[eventType] = h
	return nil
}

// Types lists registered event types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

func (r *Registry) Handle(ctx context.Context, ev Event) error {
	r.mu.RLock()
	h, ok := r.handlers[ev.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrHandlerNotRegistered, ev.Type)
	}
	return h(ctx, ev)
}
