package events

import (
	"github.com/rs/zerolog"

	"github.com/spawnpoint/spawnpoint/pkg/log"
)

// AuditLogger turns broker events into structured log lines, one per
// event, so the activity history of every instance survives in the
// process logs without a separate audit store.
type AuditLogger struct {
	broker *Broker
	sub    Subscriber
	logger zerolog.Logger
	done   chan struct{}
}

// NewAuditLogger subscribes to the broker. Call Start to begin
// consuming.
func NewAuditLogger(broker *Broker) *AuditLogger {
	return &AuditLogger{
		broker: broker,
		sub:    broker.Subscribe(),
		logger: log.WithComponent("audit"),
		done:   make(chan struct{}),
	}
}

// Start consumes events until Stop is called.
func (a *AuditLogger) Start() {
	go a.run()
}

// Stop unsubscribes and waits for the consumer to drain.
func (a *AuditLogger) Stop() {
	a.broker.Unsubscribe(a.sub)
	<-a.done
}

func (a *AuditLogger) run() {
	defer close(a.done)
	for event := range a.sub {
		entry := a.logger.Info().
			Str("event", string(event.Type)).
			Time("at", event.Timestamp)
		if event.Task != "" {
			entry = entry.Str("task", event.Task)
		}
		if event.InstanceID != 0 {
			entry = entry.Uint("instance_id", event.InstanceID)
		}
		if event.UserID != 0 {
			entry = entry.Uint("user_id", event.UserID)
		}
		if event.Port != 0 {
			entry = entry.Int("port", event.Port)
		}
		entry.Msg(event.Message)
	}
}
