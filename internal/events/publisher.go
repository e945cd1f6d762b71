// Package events publishes completed conversation turns to Kafka for
// downstream analytics. Without brokers configured it runs in log-only mode,
// so the agent works standalone.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// TurnEvent is the payload written for every finished turn.
type TurnEvent struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	At        time.Time `json:"at"`
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers []string
	Topic   string
}

// Publisher writes turn events, keyed by session so one conversation stays on
// one partition.
type Publisher struct {
	writer  *kafka.Writer
	topic   string
	enabled bool
}

// New creates a publisher. Empty brokers disable publishing.
func New(cfg Config) *Publisher {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		log.Info().Msg("kafka disabled, turn events log-only")
		return &Publisher{topic: cfg.Topic}
	}

	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("kafka publisher initialized")
	return &Publisher{writer: writer, topic: cfg.Topic, enabled: true}
}

// PublishTurn emits one turn event.
func (p *Publisher) PublishTurn(ctx context.Context, sessionID, role, content string) error {
	payload, err := json.Marshal(TurnEvent{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	log.Debug().Str("session_id", sessionID).Str("role", role).
		RawJSON("payload", payload).Msg("publishing turn")
	if !p.enabled {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(sessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("turn")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Error().Err(err).Str("topic", p.topic).Str("session_id", sessionID).
			Msg("kafka write failed")
		return err
	}
	return nil
}

// Close closes the underlying writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
