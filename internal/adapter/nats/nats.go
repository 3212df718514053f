// Package nats publishes host events to a NATS JetStream stream and
// provides the KV bucket used as the shared result cache.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/uvalang/uvalens/internal/logger"
)

const headerRequestID = "X-Request-ID"

// Handler processes one message. ctx carries the publisher's request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Envelope is the body of every event published by BroadcastEvent.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Bus is a JetStream connection scoped to one subject prefix.
type Bus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	stream string
}

// Connect establishes a connection to NATS and ensures the event stream for
// prefix exists. Events are kept in memory for an hour.
func Connect(ctx context.Context, url, prefix string) (*Bus, error) {
	nc, err := nats.Connect(url, nats.Name("uvalens"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	stream := streamName(prefix)
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{prefix + ".>"},
		Storage:  jetstream.MemoryStorage,
		MaxAge:   time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", stream)
	return &Bus{nc: nc, js: js, prefix: prefix, stream: stream}, nil
}

// streamName derives a JetStream stream name from a subject prefix. Stream
// names may not contain dots.
func streamName(prefix string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_", "*", "_", ">", "_").Replace(prefix))
}

// Subject returns the full subject of an event type.
func (b *Bus) Subject(eventType string) string {
	return b.prefix + "." + eventType
}

// Publish sends data to subject, carrying the context's request ID.
func (b *Bus) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	if _, err := b.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// BroadcastEvent publishes an Envelope to the event type's subject. Failures
// are logged; the editor host never waits on NATS.
func (b *Bus) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal nats event payload", "type", eventType, "error", err)
		return
	}
	body, err := json.Marshal(Envelope{Type: eventType, Payload: data})
	if err != nil {
		slog.Error("marshal nats envelope", "type", eventType, "error", err)
		return
	}
	if err := b.Publish(ctx, b.Subject(eventType), body); err != nil {
		slog.Warn("nats event dropped", "type", eventType, "error", err)
	}
}

// Subscribe registers a handler for new messages on subject, which may use
// wildcards. The returned function stops the subscription.
func (b *Bus) Subscribe(ctx context.Context, subject string, handler Handler) (func(), error) {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.stream, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		mctx := context.Background()
		if id := msg.Headers().Get(headerRequestID); id != "" {
			mctx = logger.WithRequestID(mctx, id)
		}
		if err := handler(mctx, msg.Subject(), msg.Data()); err != nil {
			slog.Error("message handler failed", "subject", msg.Subject(), "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// KeyValue returns the in-memory KV bucket with the given entry TTL,
// creating it if needed.
func (b *Bus) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := b.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		TTL:     ttl,
		Storage: jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv %s: %w", bucket, err)
	}
	return kv, nil
}

// IsConnected reports whether the connection is up.
func (b *Bus) IsConnected() bool {
	return b.nc.IsConnected()
}

// Drain flushes pending messages and closes the connection.
func (b *Bus) Drain() error {
	return b.nc.Drain()
}

// Close shuts down the NATS connection.
func (b *Bus) Close() error {
	b.nc.Close()
	return nil
}
