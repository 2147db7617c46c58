package scan

import (
	"context"
	"fmt"
	"sync"

	"github.com/portsweep/portsweep/internal/metrics"
)

// PermitPool bounds the number of simultaneously in-flight connection
// attempts across all targets of a run. A unit of work acquires a
// permit before dialing and releases it as soon as the dial resolves;
// service detection runs after release and is not gated here.
type PermitPool struct {
	capacity  int
	semaphore chan struct{}
	done      chan struct{}
	mutex     sync.Mutex
	inUse     int
	closed    bool
}

// NewPermitPool creates a pool with the specified capacity.
func NewPermitPool(capacity int) *PermitPool {
	if capacity <= 0 {
		capacity = 1
	}

	metrics.SetPermitCapacity(capacity)
	return &PermitPool{
		capacity:  capacity,
		semaphore: make(chan struct{}, capacity),
		done:      make(chan struct{}),
	}
}

// Acquire blocks until a permit is available, the context is cancelled,
// or the pool is closed.
func (p *PermitPool) Acquire(ctx context.Context) error {
	select {
	case p.semaphore <- struct{}{}:
	case <-p.done:
		return fmt.Errorf("permit pool is closed")
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	// Close may have drained the semaphore between our send and taking
	// the lock; hand the slot back instead of holding a dead permit.
	if p.closed {
		select {
		case <-p.semaphore:
		default:
		}
		return fmt.Errorf("permit pool is closed")
	}

	p.inUse++
	metrics.SetPermitsInUse(p.inUse)
	return nil
}

// Release returns a permit to the pool.
func (p *PermitPool) Release() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.inUse == 0 {
		return
	}
	p.inUse--
	metrics.SetPermitsInUse(p.inUse)

	select {
	case <-p.semaphore:
	default:
	}
}

// InUse returns the number of permits currently held.
func (p *PermitPool) InUse() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.inUse
}

// Available returns the number of free permits.
func (p *PermitPool) Available() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.capacity - p.inUse
}

// Capacity returns the pool size.
func (p *PermitPool) Capacity() int {
	return p.capacity
}

// Close shuts the pool down. Pending and future Acquire calls fail
// immediately.
func (p *PermitPool) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	p.inUse = 0
	metrics.SetPermitsInUse(0)

	for {
		select {
		case <-p.semaphore:
		default:
			return nil
		}
	}
}
