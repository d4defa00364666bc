// Package ingest contains the telemetry intake path: the broker
// subscriber that consumes raw feeder messages and the write-behind
// buffer that batches them into the store.
package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"cattle-backendv3/internal/model"
)

// retryBackoff is the minimum delay before reattempting a failed flush.
const retryBackoff = 2 * time.Second

// Buffer accumulates raw samples and flushes them as one batch when it
// reaches its size trigger or its age trigger, whichever fires first.
// A failed flush puts the batch back at the head of the buffer so no
// sample is lost and original order is preserved.
type Buffer struct {
	flusher  model.SampleFlusher
	size     int
	interval time.Duration

	mu         sync.Mutex
	samples    []model.Sample
	lastFlush  time.Time
	retryAfter time.Time
	highWater  int

	// OnFlush is called after every flush attempt (for metrics).
	OnFlush func(n int, err error)

	now func() time.Time
}

// NewBuffer creates a write-behind buffer flushing into flusher when
// size samples accumulate or interval elapses.
func NewBuffer(flusher model.SampleFlusher, size int, interval time.Duration) *Buffer {
	now := func() time.Time { return time.Now().UTC() }
	return &Buffer{
		flusher:   flusher,
		size:      size,
		interval:  interval,
		lastFlush: now(),
		now:       now,
	}
}

// Add appends one sample. When the size trigger is met (and no retry
// backoff is pending) the batch is flushed on the caller's goroutine.
func (b *Buffer) Add(ctx context.Context, s model.Sample) {
	b.mu.Lock()
	b.samples = append(b.samples, s)
	n := len(b.samples)
	if n > b.highWater {
		b.highWater = n
		if n > b.size*2 {
			log.Printf("[buffer] high-water mark %d samples (flush target %d)", n, b.size)
		}
	}
	trigger := n >= b.size && !b.now().Before(b.retryAfter)
	b.mu.Unlock()

	if trigger {
		b.Flush(ctx)
	}
}

// Flush writes all pending samples as one batch. On failure the batch
// is placed back at the head of the buffer and retries are suppressed
// for retryBackoff.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.samples) == 0 {
		b.lastFlush = b.now()
		b.mu.Unlock()
		return nil
	}
	batch := b.samples
	b.samples = nil
	b.lastFlush = b.now()
	b.mu.Unlock()

	err := b.flusher.FlushSamples(ctx, batch)
	if err != nil {
		b.mu.Lock()
		// Samples that arrived mid-flush go behind the failed batch.
		b.samples = append(batch, b.samples...)
		b.retryAfter = b.now().Add(retryBackoff)
		pending := len(b.samples)
		b.mu.Unlock()
		log.Printf("[buffer] flush of %d samples failed (%d pending, retry in %s): %v",
			len(batch), pending, retryBackoff, err)
	}

	if b.OnFlush != nil {
		b.OnFlush(len(batch), err)
	}
	return err
}

// Pending returns the number of buffered samples.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Run drives the age trigger until ctx is cancelled, then performs a
// final drain flush.
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := b.Flush(drainCtx); err != nil {
				log.Printf("[buffer] final drain failed, %d samples lost: %v", b.Pending(), err)
			}
			cancel()
			return
		case <-ticker.C:
			b.mu.Lock()
			due := len(b.samples) > 0 &&
				b.now().Sub(b.lastFlush) >= b.interval &&
				!b.now().Before(b.retryAfter)
			b.mu.Unlock()
			if due {
				b.Flush(ctx)
			}
		}
	}
}
