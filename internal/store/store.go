// Package store holds the staging slots web workers deliver outputs into.
package store

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned for ids that name no slot.
	ErrNotFound = errors.New("slot not found")

	// ErrEmpty is returned when reading a slot nothing was written to yet.
	ErrEmpty = errors.New("slot is empty")
)

// Slot describes one staging slot.
type Slot struct {
	ID        string    `json:"id"`
	Exists    bool      `json:"exists"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Store defines the operations on staging slots.
type Store interface {
	Create(ctx context.Context) (*Slot, error)
	Get(ctx context.Context, id string) (*Slot, error)
	Put(ctx context.Context, id string, r io.Reader) (*Slot, error)
	Open(ctx context.Context, id string) (io.ReadCloser, *Slot, error)
	Close() error
}
