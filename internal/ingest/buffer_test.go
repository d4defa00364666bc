package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cattle-backendv3/internal/model"
)

type fakeFlusher struct {
	mu      sync.Mutex
	batches [][]model.Sample
	failN   int // fail the next N calls
}

func (f *fakeFlusher) FlushSamples(ctx context.Context, batch []model.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("store down")
	}
	cp := make([]model.Sample, len(batch))
	copy(cp, batch)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeFlusher) flushed() [][]model.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}

func sampleN(i int) model.Sample {
	return model.Sample{
		Timestamp: time.Date(2025, 6, 2, 6, 0, i, 0, time.UTC),
		DeviceID:  "feeder-1",
		RFID:      fmt.Sprintf("tag-%d", i),
		Weight:    10,
		TempC:     38,
	}
}

// testClock gives the buffer a steppable clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBuffer(f *fakeFlusher, size int) (*Buffer, *testClock) {
	clk := &testClock{t: time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)}
	b := NewBuffer(f, size, 5*time.Second)
	b.now = clk.now
	b.lastFlush = clk.now()
	return b, clk
}

func TestBuffer_SizeTriggerFlushes(t *testing.T) {
	f := &fakeFlusher{}
	b, _ := newTestBuffer(f, 3)

	ctx := context.Background()
	b.Add(ctx, sampleN(0))
	b.Add(ctx, sampleN(1))
	if len(f.flushed()) != 0 {
		t.Fatal("flushed before size trigger")
	}
	b.Add(ctx, sampleN(2))

	batches := f.flushed()
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("expected one batch of 3, got %v", batches)
	}
	if b.Pending() != 0 {
		t.Errorf("expected empty buffer after flush, got %d", b.Pending())
	}
	// Order preserved.
	for i, s := range batches[0] {
		if s.RFID != fmt.Sprintf("tag-%d", i) {
			t.Errorf("batch out of order at %d: %s", i, s.RFID)
		}
	}
}

func TestBuffer_FailedFlushReenqueuesAtHead(t *testing.T) {
	f := &fakeFlusher{failN: 1}
	b, clk := newTestBuffer(f, 3)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		b.Add(ctx, sampleN(i))
	}
	if b.Pending() != 3 {
		t.Fatalf("failed batch must return to the buffer, pending=%d", b.Pending())
	}

	// Backoff suppresses the size trigger.
	b.Add(ctx, sampleN(3))
	if len(f.flushed()) != 0 {
		t.Fatal("flush retried inside the backoff window")
	}

	clk.advance(retryBackoff)
	if err := b.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	batches := f.flushed()
	if len(batches) != 1 || len(batches[0]) != 4 {
		t.Fatalf("expected one batch of 4 after retry, got %v", batches)
	}
	// The failed batch stays ahead of samples added afterwards.
	for i, s := range batches[0] {
		if s.RFID != fmt.Sprintf("tag-%d", i) {
			t.Errorf("retry batch out of order at %d: %s", i, s.RFID)
		}
	}
}

func TestBuffer_FlushEmptyIsNoOp(t *testing.T) {
	f := &fakeFlusher{}
	b, _ := newTestBuffer(f, 3)
	if err := b.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.flushed()) != 0 {
		t.Fatal("empty flush must not reach the store")
	}
}

func TestBuffer_OnFlushHook(t *testing.T) {
	f := &fakeFlusher{}
	b, _ := newTestBuffer(f, 2)

	var gotN int
	var gotErr error
	b.OnFlush = func(n int, err error) { gotN, gotErr = n, err }

	ctx := context.Background()
	b.Add(ctx, sampleN(0))
	b.Add(ctx, sampleN(1))

	if gotN != 2 || gotErr != nil {
		t.Errorf("OnFlush got (%d, %v), want (2, nil)", gotN, gotErr)
	}
}

func TestBuffer_RunDrainsOnShutdown(t *testing.T) {
	f := &fakeFlusher{}
	b := NewBuffer(f, 100, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	b.Add(ctx, sampleN(0))
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	batches := f.flushed()
	if len(batches) == 0 || len(batches[len(batches)-1]) == 0 {
		t.Fatal("pending sample was not drained on shutdown")
	}
}

func TestBuffer_AgeTriggerFlushes(t *testing.T) {
	f := &fakeFlusher{}
	b := NewBuffer(f, 100, 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Add(ctx, sampleN(0))

	deadline := time.After(time.Second)
	for {
		if len(f.flushed()) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("age trigger never flushed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
