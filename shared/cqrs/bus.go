package cqrs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
)

// RequestType is the static tag a command or query is routed by.
type RequestType string

// Request is implemented by every command and query. RequestType must not
// depend on field values: the bus calls it on the zero value at registration.
type Request interface {
	RequestType() RequestType
}

// Handler handles exactly one request type.
type Handler[Req Request, Res any] interface {
	Handle(ctx context.Context, req Req) (Res, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[Req Request, Res any] func(ctx context.Context, req Req) (Res, error)

func (f HandlerFunc[Req, Res]) Handle(ctx context.Context, req Req) (Res, error) {
	return f(ctx, req)
}

// NoResult is the result type of commands that return nothing.
type NoResult struct{}

type registration struct {
	handler string
	invoke  func(ctx context.Context, req Request) (any, error)
}

// Bus routes requests to handlers through a registry filled once at startup.
// Resolution still happens per dispatch so that a bad registry faults loudly
// instead of silently picking a handler.
type Bus struct {
	kind     string
	mu       sync.RWMutex
	handlers map[RequestType][]registration
}

// NewBus creates an empty bus. kind ("command", "query") only appears in
// errors and logs.
func NewBus(kind string) *Bus {
	return &Bus{kind: kind, handlers: make(map[RequestType][]registration)}
}

// Register adds h as a handler for the request type of Req.
func Register[Req Request, Res any](b *Bus, h Handler[Req, Res]) {
	var zero Req
	t := zero.RequestType()

	reg := registration{
		handler: fmt.Sprintf("%T", h),
		invoke: func(ctx context.Context, req Request) (any, error) {
			typed, ok := req.(Req)
			if !ok {
				return nil, fmt.Errorf("%w: %T cannot be handled as %s", apperrors.ErrHandlerResolution, req, t)
			}
			return h.Handle(ctx, typed)
		},
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], reg)
}

// Validate reports duplicate registrations and expected request types that
// have no handler.
func (b *Bus) Validate(expected ...RequestType) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var errs []error
	types := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		if regs := b.handlers[RequestType(t)]; len(regs) > 1 {
			errs = append(errs, fmt.Errorf("%w: %d %s handlers registered for %s", apperrors.ErrHandlerResolution, len(regs), b.kind, t))
		}
	}
	for _, t := range expected {
		if len(b.handlers[t]) == 0 {
			errs = append(errs, fmt.Errorf("%w: no %s handler registered for %s", apperrors.ErrHandlerResolution, b.kind, t))
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) resolve(t RequestType) (registration, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	regs := b.handlers[t]
	switch len(regs) {
	case 0:
		return registration{}, fmt.Errorf("%w: no %s handler registered for %s", apperrors.ErrHandlerResolution, b.kind, t)
	case 1:
		return regs[0], nil
	default:
		return registration{}, fmt.Errorf("%w: %d %s handlers registered for %s", apperrors.ErrHandlerResolution, len(regs), b.kind, t)
	}
}

// Dispatch sends req to its single handler. Handler errors are returned as-is;
// a handler may return a usable result together with an error.
func Dispatch[Res any](ctx context.Context, b *Bus, req Request) (Res, error) {
	var zero Res

	reg, err := b.resolve(req.RequestType())
	if err != nil {
		return zero, err
	}

	logrus.WithFields(logrus.Fields{
		"bus":     b.kind,
		"request": req.RequestType(),
		"handler": reg.handler,
	}).Debug("dispatching request")

	out, err := reg.invoke(ctx, req)
	res, ok := out.(Res)
	if err != nil {
		if ok {
			return res, err
		}
		return zero, err
	}
	if !ok {
		return zero, fmt.Errorf("%w: %s handler for %s returned %T, want %T", apperrors.ErrHandlerResolution, b.kind, req.RequestType(), out, zero)
	}
	return res, nil
}
