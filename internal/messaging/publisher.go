package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/locator-kn/ms-fileserve/internal/config"
	"github.com/locator-kn/ms-fileserve/internal/domain"
)

// Publisher publishes variant lifecycle events to RabbitMQ. It is the
// observable sink for secondary variants that finish after the upload
// response was returned.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      zerolog.Logger
}

// VariantEventMessage is the wire format of a variant outcome.
type VariantEventMessage struct {
	StorageID string `json:"storage_id"`
	Label     string `json:"label"`
	State     string `json:"state"`
	ByteSize  int64  `json:"byte_size,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewPublisher creates a new RabbitMQ publisher.
func NewPublisher(cfg *config.Config, log zerolog.Logger) (*Publisher, error) {
	var conn *amqp.Connection
	var err error

	// Retry connection for up to 30 seconds
	for i := 0; i < 6; i++ {
		conn, err = amqp.Dial(cfg.RabbitURL)
		if err == nil {
			break
		}
		log.Warn().Err(err).Msgf("failed to connect to RabbitMQ, retrying in 5s... (%d/6)", i+1)
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after retries: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.RabbitExchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: cfg.RabbitExchange,
		log:      log,
	}, nil
}

// PublishVariantEvent publishes a variant's terminal state. Routing
// key is media.variant.committed or media.variant.failed.
func (p *Publisher) PublishVariantEvent(ctx context.Context, storageID, label string, state domain.VariantState, size int64, variantErr error) error {
	msg := VariantEventMessage{
		StorageID: storageID,
		Label:     label,
		State:     string(state),
		ByteSize:  size,
	}
	routingKey := "media.variant.committed"
	if state == domain.VariantFailed {
		routingKey = "media.variant.failed"
		if variantErr != nil {
			msg.Error = variantErr.Error()
		}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.log.Info().Str("storage_id", storageID).Str("label", label).Str("state", string(state)).
		Msg("published variant event")
	return nil
}

// Close closes the publisher connection.
func (p *Publisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
