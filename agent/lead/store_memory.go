package lead

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps leads in process memory. It is meant for local runs and
// tests; everything is lost on restart.
type MemoryStore struct {
	mu    sync.Mutex
	leads map[string]*Lead
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leads: make(map[string]*Lead, 16),
		now:   time.Now,
	}
}

func (s *MemoryStore) CreateSession(ctx context.Context, initial Turn) (string, error) {
	if err := ValidateTurn(initial); err != nil {
		return "", err
	}
	now := s.now().UTC()
	l := &Lead{
		ID:         newLeadID(),
		Transcript: []Turn{initial},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[l.ID] = l
	return l.ID, nil
}

func (s *MemoryStore) AppendTurn(ctx context.Context, id string, turn Turn) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	if err := ValidateTurn(turn); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return ErrSessionNotFound
	}
	l.AppendTurn(turn, s.now())
	return nil
}

func (s *MemoryStore) ApplyFields(ctx context.Context, id string, fields Fields) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return ErrSessionNotFound
	}
	l.Apply(fields, s.now())
	return nil
}

func (s *MemoryStore) GetLead(ctx context.Context, id string) (*Lead, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return l.Clone(), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
