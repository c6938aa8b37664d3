package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	v1 "github.com/tagsift-lab/tagsift/internal/api/v1"
	coreerrors "github.com/tagsift-lab/tagsift/internal/core/errors"
)

// MessageSource is the slice of the subscriber the service consumes from.
type MessageSource interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
	Close() error
}

// Service drives the aggregation engine from the queue: decode, apply,
// ack. Malformed payloads are acked and dropped; a store that stays down
// past the retry budget stops the loop with the message nacked, so
// JetStream redelivers it once the service is back.
type Service struct {
	source MessageSource
	engine *Engine
	topic  string
}

func NewService(source MessageSource, engine *Engine, topic string) *Service {
	if source == nil {
		panic("consumer: message source must not be nil")
	}
	if engine == nil {
		panic("consumer: engine must not be nil")
	}
	return &Service{source: source, engine: engine, topic: topic}
}

// Run consumes until the context is cancelled or a transient store
// failure exhausts its retries.
func (s *Service) Run(ctx context.Context) error {
	messages, err := s.source.Subscribe(ctx, s.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.topic, err)
	}

	slog.Info("[Consumer] Consuming tags", "topic", s.topic)

	for {
		select {
		case <-ctx.Done():
			slog.Info("[Consumer] Stopping (context cancelled)", "topic", s.topic)
			return nil
		case msg, ok := <-messages:
			if !ok {
				slog.Info("[Consumer] Message channel closed", "topic", s.topic)
				return nil
			}
			if err := s.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (s *Service) handle(ctx context.Context, msg *message.Message) error {
	tag, err := v1.DecodeTag(msg.Payload)
	if err != nil {
		// Undecodable payloads can never succeed; ack so they don't
		// wedge the partition.
		slog.Warn("[Consumer] Dropping undecodable message",
			"error", err,
			"message_uuid", msg.UUID,
		)
		msg.Ack()
		return nil
	}

	if err := s.engine.Apply(ctx, tag); err != nil {
		if coreerrors.IsValidation(err) {
			msg.Ack()
			return nil
		}
		msg.Nack()
		return fmt.Errorf("apply tag %s: %w", tag.EventID, err)
	}

	msg.Ack()
	return nil
}
