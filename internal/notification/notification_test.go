package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"cattle-backendv3/internal/model"
	"cattle-backendv3/internal/stream"
)

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b := NewBreaker(3, 100*time.Millisecond)
	if b.State() != BreakerClosed {
		t.Fatalf("new breaker state = %v", b.State())
	}

	errFail := errors.New("fail")
	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if b.State() != BreakerOpen {
		t.Errorf("expected open after 3 failures, got %v", b.State())
	}

	// While open, calls are rejected without running fn.
	ran := false
	err := b.Execute(func() error { ran = true; return nil })
	if err != ErrBreakerOpen || ran {
		t.Errorf("open breaker: err=%v ran=%v", err, ran)
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b := NewBreaker(2, 50*time.Millisecond)
	errFail := errors.New("fail")
	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errFail })
	}
	if b.State() != BreakerOpen {
		t.Fatal("expected open")
	}

	time.Sleep(60 * time.Millisecond)

	// Successful probe closes the breaker again.
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("expected closed after probe, got %v", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := NewBreaker(2, 50*time.Millisecond)
	errFail := errors.New("fail")
	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errFail })
	}

	time.Sleep(60 * time.Millisecond)
	b.Execute(func() error { return errFail })

	if b.State() != BreakerOpen {
		t.Errorf("expected open after failed probe, got %v", b.State())
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := NewBreaker(3, 100*time.Millisecond)
	errFail := errors.New("fail")

	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return nil })
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })

	if b.State() != BreakerClosed {
		t.Errorf("expected closed (counter reset by success), got %v", b.State())
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	fail   bool
}

func (n *recordingNotifier) Send(ctx context.Context, alert Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("backend down")
	}
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *recordingNotifier) received() []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Alert(nil), n.alerts...)
}

func publishAlert(hub *stream.Hub, cowID uuid.UUID) {
	hub.Publish(model.ChannelGlobalAlerts, model.MarshalEvent(model.AnomalyAlertEvent{
		Event:     model.EventAnomalyAlert,
		CowID:     cowID,
		DeviceID:  "feeder-1",
		SessionID: uuid.New(),
		Score:     0.42,
		Consumed:  1.25,
		TimeEnd:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}))
}

func TestDispatcher_DeliversAnomalyAlerts(t *testing.T) {
	hub := stream.NewHub(8)
	rec := &recordingNotifier{}
	d := NewDispatcher(hub, map[string]Notifier{"test": rec})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for hub.SubscriberCount(model.ChannelGlobalAlerts) == 0 {
		select {
		case <-deadline:
			t.Fatal("dispatcher never subscribed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cowID := uuid.New()
	publishAlert(hub, cowID)

	var alerts []Alert
	for len(alerts) == 0 {
		select {
		case <-deadline:
			t.Fatal("alert never delivered")
		case <-time.After(5 * time.Millisecond):
			alerts = rec.received()
		}
	}
	cancel()
	<-done

	if alerts[0].Level != AlertWarning {
		t.Errorf("level = %s", alerts[0].Level)
	}
	if !strings.Contains(alerts[0].Message, cowID.String()) {
		t.Errorf("message %q does not name the cow", alerts[0].Message)
	}
	if !strings.Contains(alerts[0].Message, "feeder-1") {
		t.Errorf("message %q does not name the device", alerts[0].Message)
	}
}

func TestDispatcher_IgnoresForeignPayloads(t *testing.T) {
	hub := stream.NewHub(8)
	rec := &recordingNotifier{}
	d := NewDispatcher(hub, map[string]Notifier{"test": rec})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	deadline := time.After(time.Second)
	for hub.SubscriberCount(model.ChannelGlobalAlerts) == 0 {
		select {
		case <-deadline:
			t.Fatal("dispatcher never subscribed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	hub.Publish(model.ChannelGlobalAlerts, []byte("not json"))
	hub.Publish(model.ChannelGlobalAlerts, model.MarshalEvent(model.TrainingStatusEvent{
		Event: model.EventTrainingStatus, Phase: "started",
	}))
	publishAlert(hub, uuid.New())

	var alerts []Alert
	for len(alerts) == 0 {
		select {
		case <-deadline:
			t.Fatal("alert never delivered")
		case <-time.After(5 * time.Millisecond):
			alerts = rec.received()
		}
	}
	cancel()
	<-done

	if len(alerts) != 1 {
		t.Errorf("expected exactly 1 alert, got %d", len(alerts))
	}
}
