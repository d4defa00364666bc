package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"cattle-backendv3/internal/model"
	"cattle-backendv3/internal/stream"
)

const (
	breakerFailures = 5
	breakerReset    = 30 * time.Second
	sendTimeout     = 15 * time.Second
)

// Dispatcher subscribes to the global_alerts system channel and
// delivers each anomaly alert to every configured backend.
type Dispatcher struct {
	hub      *stream.Hub
	backends []*backend
}

type backend struct {
	name     string
	notifier Notifier
	breaker  *Breaker
}

// NewDispatcher creates a Dispatcher over the system hub. When no
// notifier is given, alerts go to the process log.
func NewDispatcher(hub *stream.Hub, notifiers map[string]Notifier) *Dispatcher {
	if len(notifiers) == 0 {
		notifiers = map[string]Notifier{"log": LogNotifier{}}
	}
	d := &Dispatcher{hub: hub}
	for name, n := range notifiers {
		b := &backend{name: name, notifier: n, breaker: NewBreaker(breakerFailures, breakerReset)}
		b.breaker.OnStateChange = func(from, to BreakerState) {
			log.Printf("[notify] %s breaker %s -> %s", b.name, from, to)
		}
		d.backends = append(d.backends, b)
	}
	return d
}

// Run consumes alerts until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	sub := d.hub.Subscribe(model.ChannelGlobalAlerts)
	defer d.hub.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-sub.C:
			d.dispatch(ctx, payload)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, payload []byte) {
	var ev model.AnomalyAlertEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Event != model.EventAnomalyAlert {
		return
	}

	alert := Alert{
		Level: AlertWarning,
		Title: "Anomalous eating session",
		Message: fmt.Sprintf("Cow %s on feeder %s: session %s scored %.4f (ate %.3f kg, ended %s)",
			ev.CowID, ev.DeviceID, ev.SessionID, ev.Score, ev.Consumed,
			ev.TimeEnd.Format(time.RFC3339)),
	}

	for _, b := range d.backends {
		err := b.breaker.Execute(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()
			return b.notifier.Send(sendCtx, alert)
		})
		if err != nil {
			log.Printf("[notify] %s delivery failed: %v", b.name, err)
		}
	}
}
