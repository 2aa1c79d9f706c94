package resilience

import (
	"context"
	"sync"
	"time"
)

// BulkheadConfig configures a bounded-concurrency admission gate.
type BulkheadConfig struct {
	// Name identifies the bulkhead in logs and metrics.
	Name string

	// MaxConcurrent is the number of permits.
	// Default: 10
	MaxConcurrent int

	// MaxWait bounds how long Acquire waits for a permit. 0 means wait
	// indefinitely (bounded only by the caller's context).
	MaxWait time.Duration
}

// Bulkhead is a counting semaphore designed for shared ownership: many
// callers, all mutable state behind the semaphore channel and a mutex.
type Bulkhead struct {
	config BulkheadConfig
	sem    chan struct{}

	mu        sync.Mutex
	active    int
	maxActive int
	rejected  int64
}

// Permit is one occupied bulkhead slot. Release is idempotent, so a deferred
// Release is safe regardless of panics or cancellation on the guarded path;
// a slot can never leak or be double-freed.
type Permit struct {
	bulkhead *Bulkhead
	once     sync.Once
}

// Release returns the slot to the bulkhead.
func (p *Permit) Release() {
	p.once.Do(func() {
		<-p.bulkhead.sem

		p.bulkhead.mu.Lock()
		p.bulkhead.active--
		p.bulkhead.mu.Unlock()
	})
}

// NewBulkhead creates a bulkhead, applying defaults to zero config fields.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	return &Bulkhead{
		config: config,
		sem:    make(chan struct{}, config.MaxConcurrent),
	}
}

// Name returns the configured bulkhead name.
func (b *Bulkhead) Name() string {
	return b.config.Name
}

// TryAcquire attempts a non-blocking acquisition.
func (b *Bulkhead) TryAcquire() (*Permit, bool) {
	select {
	case b.sem <- struct{}{}:
		return b.admitted(), true
	default:
		b.mu.Lock()
		b.rejected++
		b.mu.Unlock()

		return nil, false
	}
}

// Acquire blocks until a permit is available, MaxWait elapses, or ctx is
// done. A wait that times out returns ErrBulkheadFull.
func (b *Bulkhead) Acquire(ctx context.Context) (*Permit, error) {
	select {
	case b.sem <- struct{}{}:
		return b.admitted(), nil
	default:
	}

	var timeoutCh <-chan time.Time

	if b.config.MaxWait > 0 {
		timer := time.NewTimer(b.config.MaxWait)
		defer timer.Stop()

		timeoutCh = timer.C
	}

	select {
	case b.sem <- struct{}{}:
		return b.admitted(), nil
	case <-timeoutCh:
		b.mu.Lock()
		b.rejected++
		b.mu.Unlock()

		return nil, ErrBulkheadFull
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Execute runs op while holding a permit, releasing it on every exit path.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	permit, err := b.Acquire(ctx)
	if err != nil {
		return err
	}
	defer permit.Release()

	return op(ctx)
}

func (b *Bulkhead) admitted() *Permit {
	b.mu.Lock()

	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}

	b.mu.Unlock()

	return &Permit{bulkhead: b}
}

// BulkheadMetrics is a point-in-time usage snapshot.
type BulkheadMetrics struct {
	Name          string
	Active        int
	MaxActive     int
	Available     int
	MaxConcurrent int
	Rejected      int64
}

// Metrics returns current bulkhead usage.
func (b *Bulkhead) Metrics() BulkheadMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BulkheadMetrics{
		Name:          b.config.Name,
		Active:        b.active,
		MaxActive:     b.maxActive,
		Available:     b.config.MaxConcurrent - b.active,
		MaxConcurrent: b.config.MaxConcurrent,
		Rejected:      b.rejected,
	}
}
