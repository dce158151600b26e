package render

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"
)

// Renderer turns a layout string into an image. Implementations must be
// deterministic for identical layouts.
type Renderer interface {
	Render(ctx context.Context, layout string) (image.Image, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, layout string) (image.Image, error)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, layout string) (image.Image, error) {
	return f(ctx, layout)
}

// Session serializes render calls against one renderer and waits the settle
// delay after each call.
type Session struct {
	ID     int
	r      Renderer
	settle time.Duration

	mu    sync.Mutex
	calls int
}

// NewSession wraps r.
func NewSession(id int, r Renderer, settle time.Duration) *Session {
	return &Session{ID: id, r: r, settle: settle}
}

// Render renders layout. Concurrent callers are queued.
func (s *Session) Render(ctx context.Context, layout string) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	img, err := s.r.Render(ctx, layout)

	if s.settle > 0 {
		t := time.NewTimer(s.settle)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
	return img, err
}

// Calls returns how many renders the session has performed.
func (s *Session) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Pool hands out sessions to concurrent workers. A worker holds its session
// for the whole of a problem so steps never switch renderers mid-loop.
type Pool struct {
	sessions []*Session
	free     chan *Session
}

// NewPool builds n sessions, each over a renderer from factory.
func NewPool(n int, settle time.Duration, factory func(id int) (Renderer, error)) (*Pool, error) {
	if n < 1 {
		return nil, fmt.Errorf("pool needs at least one session, got %d", n)
	}
	p := &Pool{free: make(chan *Session, n)}
	for i := 0; i < n; i++ {
		r, err := factory(i)
		if err != nil {
			return nil, fmt.Errorf("failed to create renderer session %d: %w", i, err)
		}
		s := NewSession(i, r, settle)
		p.sessions = append(p.sessions, s)
		p.free <- s
	}
	return p, nil
}

// Size returns the number of sessions.
func (p *Pool) Size() int {
	return len(p.sessions)
}

// Sessions returns every session in the pool.
func (p *Pool) Sessions() []*Session {
	return p.sessions
}

// Acquire blocks until a session is free.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	select {
	case s := <-p.free:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a session to the pool.
func (p *Pool) Release(s *Session) {
	p.free <- s
}
