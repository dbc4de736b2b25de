// Package drafts holds the in-memory IDF drafts. Each draft owns its Record; mutations are
// whole-field replacements applied under the store lock.
package drafts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joelkehle/idf-drafter/internal/idf"
)

var (
	ErrNotFound         = errors.New("draft not found")
	ErrRefineInFlight   = errors.New("an AI request is already in flight for this draft")
	ErrExportInProgress = errors.New("draft is being exported")
)

// Draft is a point-in-time copy of a stored draft. Changing it does not affect the store.
type Draft struct {
	ID        string     `json:"id"`
	Topic     string     `json:"topic"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Version   int        `json:"version"`
	Busy      bool       `json:"busy"`
	Exporting bool       `json:"exporting"`
	Record    idf.Record `json:"record"`
}

type entry struct {
	id        string
	topic     string
	createdAt time.Time
	updatedAt time.Time
	version   int
	record    idf.Record
	busy      bool
	exporting int
}

func (e *entry) snapshot() Draft {
	return Draft{
		ID:        e.id,
		Topic:     e.topic,
		CreatedAt: e.createdAt,
		UpdatedAt: e.updatedAt,
		Version:   e.version,
		Busy:      e.busy,
		Exporting: e.exporting > 0,
		Record:    e.record.Clone(),
	}
}

type Store struct {
	mu     sync.RWMutex
	drafts map[string]*entry
	now    func() time.Time
	onSize func(n int)
}

type Option func(*Store)

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithSizeHook is called with the number of drafts after every create or delete.
func WithSizeHook(fn func(n int)) Option { return func(s *Store) { s.onSize = fn } }

func NewStore(opts ...Option) *Store {
	s := &Store{
		drafts: make(map[string]*entry),
		now:    time.Now,
		onSize: func(int) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Create(topic string) Draft {
	now := s.now()
	e := &entry{
		id:        uuid.NewString(),
		topic:     topic,
		createdAt: now,
		updatedAt: now,
		record:    idf.New(),
	}
	s.mu.Lock()
	s.drafts[e.id] = e
	n := len(s.drafts)
	s.mu.Unlock()
	s.onSize(n)
	return e.snapshot()
}

func (s *Store) Get(id string) (Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.drafts[id]
	if !ok {
		return Draft{}, ErrNotFound
	}
	return e.snapshot(), nil
}

// List returns all drafts, newest first.
func (s *Store) List() []Draft {
	s.mu.RLock()
	out := make([]Draft, 0, len(s.drafts))
	for _, e := range s.drafts {
		out = append(out, e.snapshot())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	e, ok := s.drafts[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if e.exporting > 0 {
		s.mu.Unlock()
		return ErrExportInProgress
	}
	delete(s.drafts, id)
	n := len(s.drafts)
	s.mu.Unlock()
	s.onSize(n)
	return nil
}

// Prune drops drafts not updated within maxAge and returns how many were removed. Drafts
// that are busy or exporting are kept.
func (s *Store) Prune(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	s.mu.Lock()
	removed := 0
	for id, e := range s.drafts {
		if e.busy || e.exporting > 0 || e.updatedAt.After(cutoff) {
			continue
		}
		delete(s.drafts, id)
		removed++
	}
	n := len(s.drafts)
	s.mu.Unlock()
	if removed > 0 {
		s.onSize(n)
	}
	return removed
}

// Update applies fn to a copy of the draft's Record and commits the copy only when fn
// succeeds and ctx is still live. The stored Record is never partially modified.
func (s *Store) Update(ctx context.Context, id string, fn func(rec *idf.Record) error) (Draft, error) {
	s.mu.RLock()
	e, ok := s.drafts[id]
	if !ok {
		s.mu.RUnlock()
		return Draft{}, ErrNotFound
	}
	if e.exporting > 0 {
		s.mu.RUnlock()
		return Draft{}, ErrExportInProgress
	}
	next := e.record.Clone()
	version := e.version
	s.mu.RUnlock()

	if err := fn(&next); err != nil {
		return Draft{}, err
	}
	next.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	e, ok = s.drafts[id]
	if !ok {
		return Draft{}, ErrNotFound
	}
	if e.exporting > 0 {
		return Draft{}, ErrExportInProgress
	}
	if e.version != version {
		// Another update landed while fn ran; replay it on the fresh record.
		fresh := e.record.Clone()
		if err := fn(&fresh); err != nil {
			return Draft{}, err
		}
		fresh.Normalize()
		next = fresh
	}
	e.record = next
	e.version++
	e.updatedAt = s.now()
	return e.snapshot(), nil
}

// Replace swaps in a whole Record, as produced by a bootstrap.
func (s *Store) Replace(ctx context.Context, id string, rec idf.Record) (Draft, error) {
	return s.Update(ctx, id, func(r *idf.Record) error {
		*r = rec.Clone()
		return nil
	})
}

func (s *Store) SetTopic(id, topic string) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.drafts[id]
	if !ok {
		return Draft{}, ErrNotFound
	}
	e.topic = topic
	e.updatedAt = s.now()
	return e.snapshot(), nil
}

// BeginAI marks the draft as having an AI request in flight. The returned release must be
// called when the request ends.
func (s *Store) BeginAI(id string) (Draft, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.drafts[id]
	if !ok {
		return Draft{}, nil, ErrNotFound
	}
	if e.busy {
		return Draft{}, nil, ErrRefineInFlight
	}
	e.busy = true
	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			e.busy = false
			s.mu.Unlock()
		})
	}
	return e.snapshot(), release, nil
}

// BeginExport locks the draft read-only and returns a snapshot to render from. Several
// exports may run at once; mutations fail until every done has been called.
func (s *Store) BeginExport(id string) (Draft, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.drafts[id]
	if !ok {
		return Draft{}, nil, ErrNotFound
	}
	e.exporting++
	var once sync.Once
	done := func() {
		once.Do(func() {
			s.mu.Lock()
			e.exporting--
			s.mu.Unlock()
		})
	}
	return e.snapshot(), done, nil
}
