// Package pubsub implements component L, cross-instance fan-out: when
// one instance commits a room's state, every other instance holding a
// subscriber for that room needs the fresh snapshot so it can redact and
// push to its own sockets. We repurpose the connection-and-channel setup
// this codebase already used for its point-to-point task queue, but
// publish to a fanout exchange instead of a named work queue — every
// instance gets its own exclusive, auto-deleted queue bound to it, so a
// snapshot reaches all instances rather than exactly one worker.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sairajesh711/mafia-room-core/internal/engine"
)

const exchangeName = "room.snapshots"

// SnapshotMessage is the envelope published to the fanout exchange on
// every commit.
type SnapshotMessage struct {
	RoomID string       `json:"roomId"`
	State  engine.State `json:"state"`
}

// Fanout publishes room snapshots for every instance sharing one
// RabbitMQ broker to receive, and lets callers subscribe to snapshots
// committed elsewhere.
type Fanout struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// Connect dials RabbitMQ, opens a channel, and declares the shared
// fanout exchange (idempotent — safe if another instance already did).
func Connect(url string, logger *slog.Logger) (*Fanout, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("pubsub: failed to connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("pubsub: failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("pubsub: failed to declare exchange: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{conn: conn, channel: ch, logger: logger}, nil
}

// PublishSnapshot broadcasts a room's current state to every subscribed
// instance.
func (f *Fanout) PublishSnapshot(ctx context.Context, roomID string, state engine.State) error {
	body, err := json.Marshal(SnapshotMessage{RoomID: roomID, State: state})
	if err != nil {
		return err
	}
	return f.channel.PublishWithContext(ctx, exchangeName, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Subscribe declares an exclusive, auto-deleted queue bound to the shared
// exchange and invokes handler for every snapshot published to it,
// including the ones this instance published itself.
func (f *Fanout) Subscribe(ctx context.Context, handler func(SnapshotMessage)) error {
	q, err := f.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("pubsub: failed to declare subscriber queue: %w", err)
	}
	if err := f.channel.QueueBind(q.Name, "", exchangeName, false, nil); err != nil {
		return fmt.Errorf("pubsub: failed to bind subscriber queue: %w", err)
	}
	msgs, err := f.channel.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("pubsub: failed to start consuming: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var snap SnapshotMessage
				if err := json.Unmarshal(msg.Body, &snap); err != nil {
					f.logger.Error("pubsub: malformed snapshot message", "error", err)
					continue
				}
				handler(snap)
			}
		}
	}()
	return nil
}

func (f *Fanout) Close() error {
	if err := f.channel.Close(); err != nil {
		return err
	}
	return f.conn.Close()
}
