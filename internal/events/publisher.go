package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

const source = "referralpay"

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type NATSPublisher struct {
	nc *nats.Conn
}

// ConnectNATS dials the server list in url and returns a publisher bound to it.
func ConnectNATS(url string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(source),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Error("NATS disconnected with error")
			} else {
				log.Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.WithField("servers", url).Info("Connected to NATS")
	return &NATSPublisher{nc: nc}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, event Event) error {
	data, err := Marshal(event)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(event.Subject(), data); err != nil {
		return fmt.Errorf("publish %s: %w", event.Subject(), err)
	}
	return nil
}

// Close flushes buffered messages before closing the connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.WithError(err).Warn("NATS drain failed")
		p.nc.Close()
	}
}

// Marshal wraps event in an Envelope and encodes it as JSON.
func Marshal(event Event) ([]byte, error) {
	data, err := json.Marshal(Envelope{
		EventID:   uuid.NewString(),
		Subject:   event.Subject(),
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   event,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event envelope: %w", err)
	}
	return data, nil
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// Buffer holds events raised inside a database transaction. Flush after
// commit, Discard after rollback.
type Buffer struct {
	mu      sync.Mutex
	pending []Event
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Add(events ...Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, events...)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush publishes every pending event. A failed publish is logged and does
// not stop the rest; the count of failures is returned.
func (b *Buffer) Flush(ctx context.Context, publisher Publisher) int {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	failed := 0
	for _, event := range pending {
		if err := publisher.Publish(ctx, event); err != nil {
			failed++
			log.WithFields(log.Fields{
				"subject": event.Subject(),
				"error":   err,
			}).Error("Failed to publish event during flush")
		}
	}
	return failed
}

func (b *Buffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) > 0 {
		log.WithField("discarded", len(b.pending)).Debug("Discarding pending events")
	}
	b.pending = nil
}
