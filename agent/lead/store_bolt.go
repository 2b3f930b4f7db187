package lead

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var leadsBucket = []byte("leads")

type BoltConfig struct {
	Path        string        `split_words:"true" default:"data/leads.bolt"`
	OpenTimeout time.Duration `split_words:"true" default:"1s"`
}

// BoltStore keeps each lead as one JSON document in a local bbolt file.
// bbolt runs a single writer at a time, so every read-modify-write below is
// atomic with respect to other appends.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

func NewBoltStore(cfg BoltConfig) (*BoltStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}

	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(leadsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create leads bucket: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) CreateSession(ctx context.Context, initial Turn) (string, error) {
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

	err := s.db.Update(func(tx *bolt.Tx) error {
		return putLead(tx, l)
	})
	if err != nil {
		return "", fmt.Errorf("%w: create lead: %v", ErrStoreUnavailable, err)
	}
	return l.ID, nil
}

func (s *BoltStore) AppendTurn(ctx context.Context, id string, turn Turn) error {
	if err := ValidateTurn(turn); err != nil {
		return err
	}
	return s.mutate(id, func(l *Lead) {
		l.AppendTurn(turn, s.now())
	})
}

func (s *BoltStore) ApplyFields(ctx context.Context, id string, fields Fields) error {
	if fields.IsEmpty() {
		_, err := s.GetLead(ctx, id)
		return err
	}
	return s.mutate(id, func(l *Lead) {
		l.Apply(fields, s.now())
	})
}

func (s *BoltStore) GetLead(ctx context.Context, id string) (*Lead, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}

	var out *Lead
	err = s.db.View(func(tx *bolt.Tx) error {
		l, err := getLead(tx, id)
		if err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get lead: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) mutate(id string, fn func(*Lead)) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		l, err := getLead(tx, id)
		if err != nil {
			return err
		}
		fn(l)
		return putLead(tx, l)
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return err
		}
		return fmt.Errorf("%w: update lead: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func getLead(tx *bolt.Tx, id string) (*Lead, error) {
	b := tx.Bucket(leadsBucket)
	if b == nil {
		return nil, errors.New("leads bucket missing")
	}
	raw := b.Get([]byte(id))
	if raw == nil {
		return nil, ErrSessionNotFound
	}
	var l Lead
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("unmarshal lead: %w", err)
	}
	return &l, nil
}

func putLead(tx *bolt.Tx, l *Lead) error {
	b := tx.Bucket(leadsBucket)
	if b == nil {
		return errors.New("leads bucket missing")
	}
	raw, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal lead: %w", err)
	}
	return b.Put([]byte(l.ID), raw)
}
