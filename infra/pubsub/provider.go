// Package pubsub builds the watermill publisher/subscriber pair that carries
// viewer events between service nodes.
package pubsub

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/livecast/overlay-delivery-service/config"
)

// Provider owns the relay bus connection for the lifetime of the process.
type Provider interface {
	Publisher() message.Publisher
	Subscriber() message.Subscriber
	Driver() string
	Close() error
}

type provider struct {
	driver string
	pub    message.Publisher
	sub    message.Subscriber
}

// NewProvider selects the driver from cfg. nodeID makes the per-node
// subscription unique so every node receives every event.
func NewProvider(cfg config.BusConfig, nodeID string, logger watermill.LoggerAdapter) (Provider, error) {
	switch cfg.Driver {
	case config.BusDriverGoChannel, "":
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024}, logger)
		return &provider{driver: config.BusDriverGoChannel, pub: ch, sub: ch}, nil

	case config.BusDriverAMQP:
		// [FANOUT_PER_NODE] exchange per topic, one auto-deleted queue per node
		amqpCfg := amqp.NewNonDurablePubSubConfig(cfg.AMQPURL, amqp.GenerateQueueNameTopicNameWithSuffix(nodeID))
		pub, err := amqp.NewPublisher(amqpCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("pubsub: amqp publisher: %w", err)
		}
		sub, err := amqp.NewSubscriber(amqpCfg, logger)
		if err != nil {
			_ = pub.Close()
			return nil, fmt.Errorf("pubsub: amqp subscriber: %w", err)
		}
		return &provider{driver: config.BusDriverAMQP, pub: pub, sub: sub}, nil

	case config.BusDriverNATS:
		bridge, err := NewNATSBridge(cfg.NATSURL, logger)
		if err != nil {
			return nil, err
		}
		return &provider{driver: config.BusDriverNATS, pub: bridge, sub: bridge}, nil
	}
	return nil, fmt.Errorf("pubsub: unsupported driver %q", cfg.Driver)
}

func (p *provider) Publisher() message.Publisher   { return p.pub }
func (p *provider) Subscriber() message.Subscriber { return p.sub }
func (p *provider) Driver() string                 { return p.driver }

// Close releases both halves. Drivers sharing one object are closed once.
func (p *provider) Close() error {
	if c, ok := p.pub.(message.Subscriber); ok && c == p.sub {
		return p.pub.Close()
	}
	return errors.Join(p.sub.Close(), p.pub.Close())
}
