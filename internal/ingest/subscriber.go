package ingest

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"cattle-backendv3/internal/model"
)

// reconnectWait is the minimum delay between subscription attempts.
const reconnectWait = 5 * time.Second

// SampleHandler receives each decoded sample before it is buffered.
type SampleHandler interface {
	HandleSample(ctx context.Context, s *model.Sample)
}

// Subscriber maintains the durable pattern subscription to the feeder
// telemetry topics and dispatches each message to the session machine
// and the write-behind buffer.
type Subscriber struct {
	rdb     *redis.Client
	prefix  string
	machine SampleHandler
	buffer  *Buffer

	// OnMessage is called per received message (for metrics); ok is
	// false for malformed payloads.
	OnMessage func(ok bool)

	now func() time.Time
}

// NewSubscriber creates a Subscriber consuming `<prefix>/*`.
func NewSubscriber(rdb *redis.Client, prefix string, machine SampleHandler, buffer *Buffer) *Subscriber {
	return &Subscriber{
		rdb:     rdb,
		prefix:  prefix,
		machine: machine,
		buffer:  buffer,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes until ctx is cancelled, resubscribing after connection
// loss. Before each reconnect attempt the raw buffer is flushed so a
// broker outage does not grow unflushed samples unbounded.
func (s *Subscriber) Run(ctx context.Context) {
	pattern := s.prefix + "/*"
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.consume(ctx, pattern)
		if ctx.Err() != nil {
			return
		}
		log.Printf("[subscriber] subscription to %s lost: %v", pattern, err)

		if err := s.buffer.Flush(ctx); err != nil {
			log.Printf("[subscriber] buffer flush during reconnect failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectWait):
		}
	}
}

// consume holds one pattern subscription open and processes messages
// until the connection drops or ctx is cancelled.
func (s *Subscriber) consume(ctx context.Context, pattern string) error {
	pubsub := s.rdb.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	// Confirm the subscription before declaring ourselves connected.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	log.Printf("[subscriber] subscribed to %s", pattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			s.handle(ctx, []byte(msg.Payload))
		}
	}
}

// handle decodes one wire message and walks it through the pipeline:
// state machine first, then the raw buffer (which evaluates its own
// flush trigger).
func (s *Subscriber) handle(ctx context.Context, payload []byte) {
	sample, ok := model.DecodeSample(payload, s.now())
	if s.OnMessage != nil {
		s.OnMessage(ok)
	}
	if !ok {
		log.Printf("[subscriber] dropping malformed message (%d bytes)", len(payload))
		return
	}
	s.machine.HandleSample(ctx, &sample)
	s.buffer.Add(ctx, sample)
}
