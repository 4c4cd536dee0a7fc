// Package web drives web workers: after the user has been sent to the worker
// page, it polls the output slots until every one of them reports a file.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = 2 * time.Second

// Target is an output the poller checks for existence.
type Target interface {
	Poll(ctx context.Context) (bool, error)
	Done() bool
	MarkDone()
}

// Poller checks targets in rounds. A round only starts after the previous
// one has settled.
type Poller struct {
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller creates a Poller. A non-positive interval means DefaultInterval.
func NewPoller(interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{interval: interval, logger: logger}
}

// Interval returns the delay between rounds.
func (p *Poller) Interval() time.Duration { return p.interval }

// Wait polls until every target is done, a poll fails or ctx ends. The
// first round starts at once, later ones an interval after the previous
// round settled.
func (p *Poller) Wait(ctx context.Context, targets []Target) error {
	activeWatches.Inc()
	defer activeWatches.Dec()

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for round := 1; ; round++ {
		if pending(targets) == 0 {
			return nil
		}

		if round == 1 {
			if err := ctx.Err(); err != nil {
				return err
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := p.round(ctx, targets); err != nil {
			pollErrors.Inc()
			return fmt.Errorf("poll round %d: %w", round, err)
		}
		pollRounds.Inc()

		left := pending(targets)
		p.logger.Debug("poll round finished", "round", round, "pending", left)
		if left == 0 {
			return nil
		}
		timer.Reset(p.interval)
	}
}

func (p *Poller) round(ctx context.Context, targets []Target) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		if t.Done() {
			continue
		}
		g.Go(func() error {
			exists, err := t.Poll(gctx)
			if err != nil {
				return err
			}
			if exists {
				t.MarkDone()
			}
			return nil
		})
	}
	return g.Wait()
}

func pending(targets []Target) int {
	n := 0
	for _, t := range targets {
		if !t.Done() {
			n++
		}
	}
	return n
}

// Start runs Wait in the background and returns a handle to it.
func (p *Poller) Start(ctx context.Context, targets []Target) *Watch {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer cancel()
		err := p.Wait(ctx, targets)
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		close(w.done)
	}()
	return w
}

// Watch is a handle to a background poll loop.
type Watch struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Done is closed when the loop has finished.
func (w *Watch) Done() <-chan struct{} { return w.done }

// Err returns the loop's result once Done is closed, nil before.
func (w *Watch) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Cancel stops the loop. Wait then returns context.Canceled.
func (w *Watch) Cancel() { w.cancel() }

// Wait blocks until the loop finishes or ctx ends.
func (w *Watch) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
