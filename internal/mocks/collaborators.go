package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/emplan-api/internal/generation"
	"github.com/phrazzld/emplan-api/internal/notify"
	"github.com/phrazzld/emplan-api/internal/render"
)

// Generator implements generation.Generator for testing.
type Generator struct {
	GenerateFn func(ctx context.Context, req generation.Request) (string, error)

	// Default response values
	Content string
	Err     error

	mu       sync.Mutex
	requests []generation.Request
}

var _ generation.Generator = (*Generator)(nil)

// Generate records req and returns GenerateFn's result or the defaults.
func (m *Generator) Generate(ctx context.Context, req generation.Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, req)
	}
	return m.Content, m.Err
}

// Requests returns the recorded calls.
func (m *Generator) Requests() []generation.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generation.Request(nil), m.requests...)
}

// Renderer implements render.Renderer for testing.
type Renderer struct {
	RenderFn func(ctx context.Context, req render.Request) (string, error)

	// Ref is returned when RenderFn is nil and Err is nil.
	Ref string
	Err error

	mu       sync.Mutex
	requests []render.Request
}

var _ render.Renderer = (*Renderer)(nil)

// Render records req and returns RenderFn's result or the defaults.
func (m *Renderer) Render(ctx context.Context, req render.Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.RenderFn != nil {
		return m.RenderFn(ctx, req)
	}
	return m.Ref, m.Err
}

// Requests returns the recorded calls.
func (m *Renderer) Requests() []render.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]render.Request(nil), m.requests...)
}

// Dispatcher implements notify.Dispatcher for testing.
type Dispatcher struct {
	SendFn func(ctx context.Context, msg notify.Message) error
	Err    error

	mu   sync.Mutex
	sent []notify.Message
}

var _ notify.Dispatcher = (*Dispatcher)(nil)

// Send records msg and returns SendFn's result or Err.
func (m *Dispatcher) Send(ctx context.Context, msg notify.Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	if m.SendFn != nil {
		return m.SendFn(ctx, msg)
	}
	return m.Err
}

// Sent returns every message passed to Send, including failed ones.
func (m *Dispatcher) Sent() []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Message(nil), m.sent...)
}
