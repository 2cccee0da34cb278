package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	goredis "github.com/go-redis/redis/v8"

	"incident-cloud/internal/notifications/application"
	notifications "incident-cloud/internal/notifications/domain"
	"incident-cloud/internal/observability/metrics"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "incident-notifications"

type relayMessage struct {
	EmployeeID   string                     `json:"employee_id"`
	Notification notifications.Notification `json:"notification"`
}

// Relay fans pushes out across instances. Every instance, including the
// publisher, receives the message from Redis and delivers it to its own
// connections, so each session sees a push once.
type Relay struct {
	client  *goredis.Client
	channel string
	local   application.Pusher
	logger  *log.Logger
}

// NewRelay constructs a relay over an existing client.
func NewRelay(client *goredis.Client, channel string, local application.Pusher, logger *log.Logger) (*Relay, error) {
	if client == nil {
		return nil, errors.New("notification relay: nil redis client")
	}
	if local == nil {
		return nil, errors.New("notification relay: nil local pusher")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{client: client, channel: channel, local: local, logger: logger}, nil
}

// Push publishes the notification. When Redis is unreachable the push falls
// back to local delivery so this instance's sessions still get it.
func (r *Relay) Push(ctx context.Context, employeeID string, notification notifications.Notification) {
	payload, err := json.Marshal(relayMessage{EmployeeID: employeeID, Notification: notification})
	if err == nil {
		err = r.client.Publish(ctx, r.channel, payload).Err()
	}
	if err != nil {
		metrics.IncRelayFallback()
		r.logf("notification relay: publish %s: %v", notification.ID, err)
		r.local.Push(ctx, employeeID, notification)
	}
}

// Run delivers relayed notifications to local connections until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var relayed relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &relayed); err != nil {
				r.logf("notification relay: decode: %v", err)
				continue
			}
			r.local.Push(ctx, relayed.EmployeeID, relayed.Notification)
		}
	}
}

// Ping checks connectivity.
func (r *Relay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Relay) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
