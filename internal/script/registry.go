package script

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrNoSession = errors.New("script session not found")

// Session is one script window.
type Session struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Registry creates sessions with increasing integer handles.
type Registry struct {
	surface Surface
	logger  *zap.Logger

	mu       sync.Mutex
	next     int
	sessions map[int]*Session
}

func NewRegistry(surface Surface, logger *zap.Logger) *Registry {
	return &Registry{
		surface:  surface,
		logger:   logger,
		sessions: make(map[int]*Session),
	}
}

func (r *Registry) NewSession() Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.next
	r.next++
	s := &Session{
		ID:        id,
		Title:     fmt.Sprintf("Script Window #%d", id),
		CreatedAt: time.Now(),
	}
	r.sessions[id] = s
	return *s
}

func (r *Registry) Get(id int) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %d", ErrNoSession, id)
	}
	return *s, nil
}

func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Close(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNoSession, id)
	}
	delete(r.sessions, id)
	return nil
}

// Execute runs text in session id and returns the number of lines executed.
func (r *Registry) Execute(ctx context.Context, id int, text string) (int, error) {
	if _, err := r.Get(id); err != nil {
		return 0, err
	}

	r.logger.Info("Executing script", zap.Int("session", id))
	n, err := Execute(ctx, r.surface, text)

	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		s.LastRun = time.Now()
		s.LastError = ""
		if err != nil {
			s.LastError = err.Error()
		}
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("Script failed", zap.Int("session", id), zap.Error(err))
	}
	return n, err
}
