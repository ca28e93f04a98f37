package server

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/dotside-studios/pax-pos-agent/protocol"
)

// HandlerFunc handles one request. It answers through client and returns an
// error only for failures the server should log.
type HandlerFunc func(ctx context.Context, client *Client, req protocol.WebSocketRequest) error

// HandlerServer is what handlers see of the server when registering.
type HandlerServer interface {
	// Handle registers a handler for an operation name.
	Handle(messageType string, handler HandlerFunc) error

	// StartLifecycle registers a function called once the server runs. Its
	// context ends when the server stops.
	StartLifecycle(start func(ctx context.Context))

	// Broadcast pushes a message to every connected client.
	Broadcast(messageType string, payload any)
}

// ServerHandler groups related operations. Register wires routes and
// lifecycle in one place.
type ServerHandler interface {
	Register(server HandlerServer)
}

// HandlerRegistry maps operation names to handlers.
type HandlerRegistry struct {
	handlers          map[string]HandlerFunc
	lifecycleStarters []func(ctx context.Context)
	mu                sync.RWMutex
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers handler for messageType. Registering a type twice is an
// error.
func (r *HandlerRegistry) Handle(messageType string, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if messageType == "" {
		return fmt.Errorf("message type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[messageType]; exists {
		return fmt.Errorf("handler for message type '%s' already registered", messageType)
	}
	r.handlers[messageType] = handler
	return nil
}

func (r *HandlerRegistry) RegisterLifecycle(start func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lifecycleStarters = append(r.lifecycleStarters, start)
}

// Get returns the handler for messageType.
func (r *HandlerRegistry) Get(messageType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[messageType]
	return handler, ok
}

func (r *HandlerRegistry) Has(messageType string) bool {
	_, ok := r.Get(messageType)
	return ok
}

// MessageTypes returns the registered operation names, sorted.
func (r *HandlerRegistry) MessageTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.handlers))
}

// ErrUnknownType is returned by Dispatch for an unregistered operation.
var ErrUnknownType = errors.New("unknown message type")

// PanicError carries the value a handler panicked with.
type PanicError struct {
	Type  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler %s panicked: %v", e.Type, e.Value)
}

// Dispatch runs the handler registered for req.Type. A panic in the
// handler is returned as a *PanicError.
func (r *HandlerRegistry) Dispatch(ctx context.Context, client *Client, req protocol.WebSocketRequest) (err error) {
	handler, ok := r.Get(req.Type)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, req.Type)
	}

	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Type: req.Type, Value: v}
		}
	}()
	return handler(ctx, client, req)
}

// StartLifecycleHandlers calls every registered lifecycle function.
func (r *HandlerRegistry) StartLifecycleHandlers(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, starter := range r.lifecycleStarters {
		starter(ctx)
	}
}
