package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{
		Type:       EventInstanceDeployed,
		Task:       "web-101",
		InstanceID: 7,
		UserID:     3,
		Message:    "instance deployed",
	})

	select {
	case got := <-sub:
		assert.Equal(t, EventInstanceDeployed, got.Type)
		assert.Equal(t, "web-101", got.Task)
		assert.Equal(t, uint(7), got.InstanceID)
		assert.False(t, got.Timestamp.IsZero(), "timestamp should be stamped on publish")
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	first := b.Subscribe()
	second := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventSessionIssued, UserID: 1})

	for _, sub := range []Subscriber{first, second} {
		select {
		case got := <-sub:
			assert.Equal(t, EventSessionIssued, got.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Zero(t, b.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	// Fill a subscriber's buffer completely and never drain it.
	slow := b.Subscribe()
	fast := b.Subscribe()

	for i := 0; i < cap(slow)+10; i++ {
		b.Publish(&Event{Type: EventInstanceReaped, InstanceID: uint(i)})
	}

	received := 0
	deadline := time.After(2 * time.Second)
	for received < cap(slow)+10 {
		select {
		case <-fast:
			received++
		case <-deadline:
			t.Fatalf("fast subscriber stalled after %d events", received)
		}
	}
}

func TestAuditLoggerDrainsOnStop(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	audit := NewAuditLogger(b)
	audit.Start()

	b.Publish(&Event{Type: EventInstanceStopped, InstanceID: 9, Message: "instance stopped"})

	// Stop must return even with events in flight.
	done := make(chan struct{})
	go func() {
		audit.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("audit logger did not stop")
	}
	require.Zero(t, b.SubscriberCount())
}
