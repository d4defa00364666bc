package stream

import (
	"fmt"
	"testing"
	"time"
)

func recvOne(t *testing.T, sub *Subscriber) []byte {
	t.Helper()
	select {
	case msg := <-sub.C:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHub_PublishReachesAllSubscribersOfKey(t *testing.T) {
	h := NewHub(8)
	a := h.Subscribe("cow-1")
	b := h.Subscribe("cow-1")
	other := h.Subscribe("cow-2")

	h.Publish("cow-1", []byte("hello"))

	if got := string(recvOne(t, a)); got != "hello" {
		t.Errorf("a: expected hello, got %s", got)
	}
	if got := string(recvOne(t, b)); got != "hello" {
		t.Errorf("b: expected hello, got %s", got)
	}

	select {
	case msg := <-other.C:
		t.Errorf("cow-2 subscriber should not receive cow-1 event, got %s", msg)
	default:
	}
}

func TestHub_PublishNeverBlocksAndDropsOldest(t *testing.T) {
	h := NewHub(2)
	drops := 0
	h.OnDrop = func(key string) { drops++ }

	sub := h.Subscribe("cow-1")

	// Publish more events than the queue can hold. Must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish("cow-1", []byte(fmt.Sprintf("e%d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}

	if drops == 0 {
		t.Error("expected OnDrop to fire at least once")
	}

	// The latest event must still be in the queue.
	var last string
	for {
		select {
		case msg := <-sub.C:
			last = string(msg)
			continue
		default:
		}
		break
	}
	if last != "e9" {
		t.Errorf("expected latest event e9 to survive, got %s", last)
	}
}

func TestHub_DeliveryOrderWithinSubscriber(t *testing.T) {
	h := NewHub(16)
	sub := h.Subscribe("cow-1")

	for i := 0; i < 5; i++ {
		h.Publish("cow-1", []byte(fmt.Sprintf("e%d", i)))
	}
	for i := 0; i < 5; i++ {
		got := string(recvOne(t, sub))
		want := fmt.Sprintf("e%d", i)
		if got != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub(8)
	sub := h.Subscribe("ml_training_status")
	if n := h.SubscriberCount("ml_training_status"); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}

	h.Unsubscribe(sub)
	if n := h.SubscriberCount("ml_training_status"); n != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", n)
	}

	// Publishing to a key with no subscribers is a no-op.
	h.Publish("ml_training_status", []byte("x"))

	// Double unsubscribe must not panic.
	h.Unsubscribe(sub)
}
