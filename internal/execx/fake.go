package execx

import (
	"context"
	"io"
	"sync"
)

// Call records one command seen by a Recorder.
type Call struct {
	Cmd   Cmd
	Stdin string
}

// Recorder is a Runner that records commands instead of running them.
// Handler, when set, decides the outcome of each call.
type Recorder struct {
	mu      sync.Mutex
	calls   []Call
	Handler func(ctx context.Context, c Cmd) error
}

// Compile-time interface satisfaction check.
var _ Runner = (*Recorder)(nil)

// Run records the call, consuming stdin if present.
func (r *Recorder) Run(ctx context.Context, c Cmd) error {
	call := Call{Cmd: c}
	if c.Stdin != nil {
		data, err := io.ReadAll(c.Stdin)
		if err != nil {
			return err
		}
		call.Stdin = string(data)
	}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	handler := r.Handler
	r.mu.Unlock()

	if handler != nil {
		return handler(ctx, c)
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}
