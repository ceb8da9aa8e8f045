// Package worker provides the fixed-size goroutine pools that run matching
// ticks, dispatch workflows and cleanup sweeps.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker: pool closed")

// Pool bounds the number of concurrently running jobs with a semaphore.
// Jobs beyond the limit wait for a free slot.
type Pool struct {
	name  string
	slots chan struct{}
	wg    sync.WaitGroup
	log   *logrus.Entry

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool that runs at most size jobs at a time.
func NewPool(name string, size int, log *logrus.Entry) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		name:  name,
		slots: make(chan struct{}, size),
		log:   log.WithField("pool", name),
	}
}

// Size is the maximum concurrency.
func (p *Pool) Size() int {
	return cap(p.slots)
}

// Submit waits for a free slot (or ctx) and runs job on its own goroutine.
// A panicking job is logged and does not take the pool down.
func (p *Pool) Submit(ctx context.Context, job func()) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		p.wg.Done()
		return ctx.Err()
	}

	go func() {
		defer func() {
			<-p.slots
			p.wg.Done()
			if r := recover(); r != nil {
				p.log.WithField("panic", r).Error("job panicked")
			}
		}()
		job()
	}()
	return nil
}

// TrySubmit runs job only if a slot is free right now.
func (p *Pool) TrySubmit(job func()) bool {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return false
	}
	select {
	case p.slots <- struct{}{}:
	default:
		p.mu.RUnlock()
		return false
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	go func() {
		defer func() {
			<-p.slots
			p.wg.Done()
			if r := recover(); r != nil {
				p.log.WithField("panic", r).Error("job panicked")
			}
		}()
		job()
	}()
	return true
}

// Close rejects new jobs and waits for running ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
