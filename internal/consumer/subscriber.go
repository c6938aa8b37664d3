package consumer

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tagsift-lab/tagsift/internal/core/config"
)

// Subscriber is a durable JetStream subscriber behind a queue group.
// Tags for the same cookie land on the same subject partition, so one
// member of the queue group sees them in order; redeliveries after a
// missed ack make the pipeline at-least-once.
type Subscriber struct {
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter
}

// NewSubscriber connects to NATS and prepares queue-group consumption
// per the queue and consumer config sections.
func NewSubscriber(queueCfg config.QueueConfig, consumerCfg config.ConsumerConfig, logger watermill.LoggerAdapter) (*Subscriber, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	ackWait, err := consumerCfg.AckWaitDuration()
	if err != nil {
		return nil, fmt.Errorf("parse ack_wait_timeout: %w", err)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("Subscriber disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("Subscriber reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.AckWait(ackWait),
		natsgo.DeliverAll(),
	}

	// Bind to a pre-created stream when one is named; otherwise let the
	// subscriber provision a stream after the topic.
	autoProvision := true
	if queueCfg.StreamName != "" {
		subOpts = append(subOpts, natsgo.BindStream(queueCfg.StreamName))
		autoProvision = false
	}

	wmConfig := wmnats.SubscriberConfig{
		URL:              queueCfg.URL,
		QueueGroupPrefix: queueCfg.QueueGroup,
		SubscribersCount: consumerCfg.Subscribers,
		AckWaitTimeout:   ackWait,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmnats.NATSMarshaler{},
		JetStream: wmnats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    autoProvision,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    queueCfg.QueueGroup,
		},
	}

	sub, err := wmnats.NewSubscriber(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}

	return &Subscriber{subscriber: sub, logger: logger}, nil
}

// Subscribe returns the message channel for topic. The channel closes when
// the context is cancelled or the subscriber is closed.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.subscriber.Subscribe(ctx, topic)
}

// Close shuts the subscriber down.
func (s *Subscriber) Close() error {
	return s.subscriber.Close()
}
