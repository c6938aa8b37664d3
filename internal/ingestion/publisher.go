package ingestion

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	v1 "github.com/tagsift-lab/tagsift/internal/api/v1"
	"github.com/tagsift-lab/tagsift/internal/core/config"
	"github.com/tagsift-lab/tagsift/internal/core/partition"
)

// TagPublisher hands accepted tags to the queue. The HTTP handler depends
// on this interface so tests can capture publishes in memory.
type TagPublisher interface {
	PublishTag(ctx context.Context, tag *v1.TagEvent) error
	Close() error
}

// Publisher is the JetStream-backed TagPublisher. The tag's event_id
// doubles as Nats-Msg-Id, so a client retrying a timed-out POST with the
// same event_id is deduplicated inside the stream's dedup window.
type Publisher struct {
	publisher message.Publisher
	topic     string
	mu        sync.RWMutex
	closed    bool
}

// NewPublisher connects to NATS for publishing on the configured topic.
func NewPublisher(queueCfg config.QueueConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("Publisher disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("Publisher reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	wmConfig := wmnats.PublisherConfig{
		URL:         queueCfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmnats.NATSMarshaler{},
		JetStream: wmnats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: queueCfg.StreamName == "",
			TrackMsgId:    true,
		},
	}

	pub, err := wmnats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}

	return &Publisher{publisher: pub, topic: queueCfg.Topic}, nil
}

// PublishTag serializes the tag and publishes it keyed by event_id.
func (p *Publisher) PublishTag(_ context.Context, tag *v1.TagEvent) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	payload, err := v1.EncodeTag(tag)
	if err != nil {
		return fmt.Errorf("encode tag: %w", err)
	}

	msg := message.NewMessage(tag.EventID, payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, tag.EventID)
	msg.Metadata.Set("cookie", tag.Cookie)
	msg.Metadata.Set("action", tag.Action.String())
	msg.Metadata.Set("ingested_at", time.Now().UTC().Format(time.RFC3339Nano))
	// The cookie's logical partition rides along so stream placement can
	// shard on it without re-hashing the payload.
	msg.Metadata.Set("partition", strconv.Itoa(partition.For(tag.Cookie)))

	return p.publisher.Publish(p.topic, msg)
}

// Close shuts the publisher down. Subsequent publishes fail.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	return p.publisher.Close()
}
