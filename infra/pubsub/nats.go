package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
)

var (
	_ message.Publisher  = (*NATSBridge)(nil)
	_ message.Subscriber = (*NATSBridge)(nil)
)

const natsNackDelay = 100 * time.Millisecond

// natsFrame is the on-wire form of a watermill message on a NATS subject.
type natsFrame struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload"`
}

// NATSBridge adapts a core NATS connection to watermill's Publisher and
// Subscriber. Every subscriber receives every message on the subject.
type NATSBridge struct {
	conn   *nats.Conn
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	subs    []*nats.Subscription
	closing chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewNATSBridge(url string, logger watermill.LoggerAdapter) (*NATSBridge, error) {
	conn, err := nats.Connect(url, nats.Name("overlay-delivery-service"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("pubsub: failed to connect to NATS: %w", err)
	}
	return &NATSBridge{conn: conn, logger: logger, closing: make(chan struct{})}, nil
}

func (b *NATSBridge) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		data, err := encodeNATSFrame(msg)
		if err != nil {
			return err
		}
		if err := b.conn.Publish(topic, data); err != nil {
			return fmt.Errorf("pubsub: nats publish %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe delivers messages one at a time and waits for Ack. A Nack
// redelivers the same message after a short delay.
func (b *NATSBridge) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("pubsub: nats bridge closed")
	}

	in := make(chan *nats.Msg, 256)
	sub, err := b.conn.ChanSubscribe(topic, in)
	if err != nil {
		return nil, fmt.Errorf("pubsub: nats subscribe %s: %w", topic, err)
	}
	b.subs = append(b.subs, sub)

	out := make(chan *message.Message)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.closing:
				return
			case raw := <-in:
				msg, err := decodeNATSFrame(raw.Data)
				if err != nil {
					b.logger.Error("DECODE_FAILED: dropping nats frame", err, watermill.LogFields{"topic": topic})
					continue
				}
				if !b.deliver(ctx, out, msg) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *NATSBridge) deliver(ctx context.Context, out chan<- *message.Message, msg *message.Message) bool {
	for {
		m := msg.Copy()
		m.SetContext(ctx)
		select {
		case out <- m:
		case <-ctx.Done():
			return false
		case <-b.closing:
			return false
		}

		select {
		case <-m.Acked():
			return true
		case <-m.Nacked():
			select {
			case <-time.After(natsNackDelay):
			case <-ctx.Done():
				return false
			case <-b.closing:
				return false
			}
		case <-ctx.Done():
			return false
		case <-b.closing:
			return false
		}
	}
}

// Close drains subscriptions and closes the connection. Safe to call twice.
func (b *NATSBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closing)
	b.mu.Unlock()

	b.wg.Wait()
	b.conn.Close()
	return nil
}

func encodeNATSFrame(msg *message.Message) ([]byte, error) {
	data, err := json.Marshal(natsFrame{UUID: msg.UUID, Metadata: msg.Metadata, Payload: msg.Payload})
	if err != nil {
		return nil, fmt.Errorf("pubsub: encode nats frame: %w", err)
	}
	return data, nil
}

func decodeNATSFrame(data []byte) (*message.Message, error) {
	var f natsFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("pubsub: decode nats frame: %w", err)
	}
	msg := message.NewMessage(f.UUID, f.Payload)
	for k, v := range f.Metadata {
		msg.Metadata.Set(k, v)
	}
	return msg, nil
}
