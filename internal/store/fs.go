package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time interface satisfaction check.
var _ Store = (*FSStore)(nil)

// FSStore keeps slot contents as files under a directory and slot metadata
// in memory. Slots live as long as the process.
type FSStore struct {
	dir string
	now func() time.Time

	mu    sync.RWMutex
	slots map[string]*Slot
}

// NewFSStore creates the directory if needed and returns a store over it.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &FSStore{
		dir:   dir,
		now:   func() time.Time { return time.Now().UTC() },
		slots: make(map[string]*Slot),
	}, nil
}

// Create allocates an empty slot.
func (s *FSStore) Create(_ context.Context) (*Slot, error) {
	slot := &Slot{ID: uuid.NewString(), CreatedAt: s.now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot.ID] = slot
	cp := *slot
	return &cp, nil
}

// Get returns the slot's metadata.
func (s *FSStore) Get(_ context.Context, id string) (*Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *slot
	return &cp, nil
}

// Put replaces the slot's content with r. The slot only reports Exists once
// the content is fully written.
func (s *FSStore) Put(ctx context.Context, id string, r io.Reader) (*Slot, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.dir, "."+id+"-*")
	if err != nil {
		return nil, fmt.Errorf("create slot file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write slot %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("commit slot %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	slot.Exists = true
	slot.Size = n
	slot.UpdatedAt = s.now()
	cp := *slot
	return &cp, nil
}

// Open returns the slot's content. The caller closes the reader.
func (s *FSStore) Open(ctx context.Context, id string) (io.ReadCloser, *Slot, error) {
	slot, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !slot.Exists {
		return nil, slot, ErrEmpty
	}
	f, err := os.Open(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, slot, ErrEmpty
		}
		return nil, slot, fmt.Errorf("open slot %s: %w", id, err)
	}
	return f, slot, nil
}

// Close forgets every slot and removes their files.
func (s *FSStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for id := range s.slots {
		if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	clear(s.slots)
	return errors.Join(errs...)
}

// path is only called with ids minted by Create, so they never contain
// path separators.
func (s *FSStore) path(id string) string {
	return filepath.Join(s.dir, id)
}
