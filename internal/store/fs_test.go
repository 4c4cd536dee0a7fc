package store

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	slot, err := s.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := uuid.Parse(slot.ID); err != nil {
		t.Errorf("slot id %q is not a uuid: %v", slot.ID, err)
	}
	if slot.Exists || slot.CreatedAt.IsZero() {
		t.Errorf("new slot = %+v", slot)
	}

	got, err := s.Get(ctx, slot.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if *got != *slot {
		t.Errorf("Get = %+v, want %+v", got, slot)
	}
}

func TestGetUnknownSlot(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutThenOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	slot, _ := s.Create(ctx)

	if _, _, err := s.Open(ctx, slot.ID); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Open before Put: expected ErrEmpty, got %v", err)
	}

	put, err := s.Put(ctx, slot.ID, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !put.Exists || put.Size != 5 || put.UpdatedAt.IsZero() {
		t.Errorf("after Put = %+v", put)
	}

	rc, got, err := s.Open(ctx, slot.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" || !got.Exists {
		t.Errorf("content = %q, slot = %+v", data, got)
	}

	// A second Put replaces the content.
	if _, err := s.Put(ctx, slot.ID, strings.NewReader("bye")); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	again, _ := s.Get(ctx, slot.ID)
	if again.Size != 3 {
		t.Errorf("size after replace = %d, want 3", again.Size)
	}
}

func TestPutUnknownSlot(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(context.Background(), "../escape", strings.NewReader("x"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	entries, _ := os.ReadDir(s.dir)
	if len(entries) != 0 {
		t.Errorf("store dir has %d entries, want 0", len(entries))
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestPutFailureLeavesSlotEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	slot, _ := s.Create(ctx)

	if _, err := s.Put(ctx, slot.ID, failingReader{}); err == nil {
		t.Fatal("expected write error")
	}
	got, _ := s.Get(ctx, slot.ID)
	if got.Exists {
		t.Error("slot reports exists after a failed write")
	}
	entries, _ := os.ReadDir(s.dir)
	if len(entries) != 0 {
		t.Errorf("temp file left behind: %d entries", len(entries))
	}
}

func TestConcurrentPuts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		slot, _ := s.Create(ctx)
		ids[i] = slot.ID
		wg.Go(func() {
			if _, err := s.Put(ctx, slot.ID, strings.NewReader(slot.ID)); err != nil {
				t.Errorf("Put: %v", err)
			}
		})
	}
	wg.Wait()

	for _, id := range ids {
		rc, _, err := s.Open(ctx, id)
		if err != nil {
			t.Fatalf("Open(%s): %v", id, err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		if string(data) != id {
			t.Errorf("slot %s holds %q", id, data)
		}
	}
}

func TestCloseRemovesFiles(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	slot, _ := s.Create(context.Background())
	s.Put(context.Background(), slot.ID, strings.NewReader("x"))

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	entries, _ := os.ReadDir(s.dir)
	if len(entries) != 0 {
		t.Errorf("files left after Close: %d", len(entries))
	}
	if _, err := s.Get(context.Background(), slot.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("slot survived Close: %v", err)
	}
}
