package messagepipeline

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// SimplePublisher is a direct, unbatched publisher, used for dead-lettering.
type SimplePublisher interface {
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	// Stop flushes any pending messages and accepts a context for timeout control.
	Stop(ctx context.Context) error
}

// GoogleSimplePublisherConfig holds the dead-letter topic settings.
type GoogleSimplePublisherConfig struct {
	TopicID            string
	TopicExistsTimeout time.Duration
	ResultTimeout      time.Duration
}

// NewGoogleSimplePublisherDefaults returns a config for topicID with default timeouts.
func NewGoogleSimplePublisherDefaults(topicID string) *GoogleSimplePublisherConfig {
	return &GoogleSimplePublisherConfig{
		TopicID:            topicID,
		TopicExistsTimeout: 15 * time.Second,
		ResultTimeout:      30 * time.Second,
	}
}

// GoogleSimplePublisher publishes one Pub/Sub message per call.
type GoogleSimplePublisher struct {
	topic         *pubsub.Topic
	resultTimeout time.Duration
	logger        zerolog.Logger
}

// NewGoogleSimplePublisher verifies that the topic exists before returning.
func NewGoogleSimplePublisher(ctx context.Context, cfg *GoogleSimplePublisherConfig, client *pubsub.Client, logger zerolog.Logger) (*GoogleSimplePublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	topic := client.Topic(cfg.TopicID)

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	return &GoogleSimplePublisher{
		topic:         topic,
		resultTimeout: cfg.ResultTimeout,
		logger:        logger.With().Str("component", "GoogleSimplePublisher").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Publish queues one message and logs its result asynchronously.
func (p *GoogleSimplePublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})

	go func() {
		// A fresh context, so a short-lived publish context does not cancel the wait.
		getCtx, cancel := context.WithTimeout(context.Background(), p.resultTimeout)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			p.logger.Error().Err(err).Msg("Failed to publish message.")
			return
		}
		p.logger.Debug().Str("published_msg_id", msgID).Msg("Message sent successfully.")
	}()

	return nil
}

// Stop flushes any pending messages for the topic, respecting the context's timeout.
func (p *GoogleSimplePublisher) Stop(ctx context.Context) error {
	if p.topic == nil {
		return nil
	}
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()
	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewDeadLetterProcessor republishes the raw envelope of every record to pub,
// with the event type, outcome and error as attributes. Combine it with
// WithOutcomeFilter to dead-letter only failed or unhandled events.
func NewDeadLetterProcessor(pub SimplePublisher) EventProcessor {
	return func(ctx context.Context, rec *EventRecord) error {
		attrs := map[string]string{
			"event_type": rec.EventType,
			"outcome":    rec.Outcome,
			"tier":       string(rec.Tier),
			"record_id":  rec.ID,
		}
		if rec.Error != "" {
			attrs["error"] = rec.Error
		}
		if err := pub.Publish(ctx, rec.Raw, attrs); err != nil {
			return fmt.Errorf("dead-letter record %s: %w", rec.ID, err)
		}
		return nil
	}
}
