package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neurotune/neurotune-api/internal/engine"
	"github.com/neurotune/neurotune-api/internal/models"
	"github.com/neurotune/neurotune-api/internal/repository"
	"github.com/neurotune/neurotune-api/internal/schedule"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGenerator struct {
	result *engine.Result
	err    error

	mu      sync.Mutex
	intents []string
	minutes []int
}

func (f *fakeGenerator) Generate(_ context.Context, intent string, durationMinutes int) (*engine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, intent)
	f.minutes = append(f.minutes, durationMinutes)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &engine.Result{Schedule: schedule.DefaultCatalog().Lookup(intent), Source: engine.SourceFallback, Attempts: 3}, nil
}

func (f *fakeGenerator) State() engine.State { return engine.StateReady }
func (f *fakeGenerator) Stats() engine.Stats { return engine.Stats{Requests: int64(len(f.intents))} }
func (f *fakeGenerator) Options() engine.Options { return engine.DefaultOptions() }

type memoryStore struct {
	mu       sync.Mutex
	sessions map[uint]*models.Session
	nextID   uint
	err      error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: map[uint]*models.Session{}, nextID: 1}
}

func (m *memoryStore) Create(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	session.ID = m.nextID
	session.StartedAt = time.Now()
	m.nextID++
	stored := *session
	m.sessions[session.ID] = &stored
	return nil
}

func (m *memoryStore) Get(_ context.Context, id uint) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	out := *s
	return &out, nil
}

func (m *memoryStore) End(_ context.Context, id uint, rating *int, note string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	if s.EndedAt != nil {
		return nil, repository.ErrSessionAlreadyEnded
	}
	now := time.Now()
	s.EndedAt = &now
	s.Rating = rating
	s.FeedbackNote = note
	out := *s
	return &out, nil
}
