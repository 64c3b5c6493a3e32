// Package perkey serializes work per key: tasks scheduled for the same key
// run one at a time in submission order, tasks for different keys run
// concurrently.
package perkey

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("scheduler closed")

type task struct {
	fn   func()
	done chan struct{}
}

type worker struct {
	ch chan *task
}

// Scheduler routes tasks to one worker goroutine per key.
type Scheduler[K comparable] struct {
	mu      sync.Mutex
	workers map[K]*worker
	wg      sync.WaitGroup
	buffer  int
	closed  bool
}

type Opts struct {
	// Buffer is the per-key queue depth. Go blocks once a key's queue is full.
	Buffer int
}

func New[K comparable](opts Opts) *Scheduler[K] {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	return &Scheduler[K]{
		workers: make(map[K]*worker),
		buffer:  opts.Buffer,
	}
}

func (s *Scheduler[K]) workerFor(key K) (*worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	w, ok := s.workers[key]
	if !ok {
		w = &worker{ch: make(chan *task, s.buffer)}
		s.workers[key] = w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for t := range w.ch {
				t.fn()
				if t.done != nil {
					close(t.done)
				}
			}
		}()
	}
	return w, nil
}

// Go enqueues fn for key and returns without waiting for it to run.
func (s *Scheduler[K]) Go(key K, fn func()) error {
	w, err := s.workerFor(key)
	if err != nil {
		return err
	}
	w.ch <- &task{fn: fn}
	return nil
}

// Do runs fn for key and waits for it to finish.
func (s *Scheduler[K]) Do(ctx context.Context, key K, fn func()) error {
	w, err := s.workerFor(key)
	if err != nil {
		return err
	}
	t := &task{fn: fn, done: make(chan struct{})}
	select {
	case w.ch <- t:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for queued tasks to drain.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, w := range s.workers {
		close(w.ch)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
