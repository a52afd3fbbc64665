package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ad-tracker/youtube-stats-collector/internal/config"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/models"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

const confirmTimeout = 5 * time.Second

// sampleMessage is the wire form of a sample.
type sampleMessage struct {
	VideoID       string    `json:"videoId"`
	RecordedAt    time.Time `json:"recordedAt"`
	DayIndex      int       `json:"dayIndex"`
	ViewCount     int64     `json:"viewCount"`
	LikeCount     int64     `json:"likeCount"`
	FavoriteCount int64     `json:"favoriteCount"`
	CommentCount  int64     `json:"commentCount"`
	SourceTag     string    `json:"fetchedFrom"`
}

// RabbitMQSink publishes samples to a topic exchange with publisher confirms.
// The sample key is the message id, so consumers can drop redeliveries.
type RabbitMQSink struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	confirms chan amqp.Confirmation
	config   *config.RabbitMQConfig
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewRabbitMQSink connects and declares the exchange, queue and binding.
func NewRabbitMQSink(cfg *config.RabbitMQConfig, log *zap.Logger) (*RabbitMQSink, error) {
	s := &RabbitMQSink{
		config: cfg,
		logger: logger.OrNop(log),
	}

	if err := s.connect(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *RabbitMQSink) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	connURL := fmt.Sprintf("amqp://%s:%s@%s:%d/",
		s.config.User, s.config.Password, s.config.Host, s.config.Port)

	conn, err := amqp.Dial(connURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	closeAll := func() {
		_ = ch.Close()
		_ = conn.Close()
	}

	if err := ch.Confirm(false); err != nil {
		closeAll()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if err := ch.ExchangeDeclare(
		s.config.Exchange, // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	); err != nil {
		closeAll()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(
		s.config.Queue, // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		amqp.Table{
			"x-message-ttl": 7 * 86400000, // 7 days
			"x-max-length":  1000000,
		},
	); err != nil {
		closeAll()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(
		s.config.Queue,      // queue name
		s.config.RoutingKey, // routing key
		s.config.Exchange,   // exchange
		false,
		nil,
	); err != nil {
		closeAll()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	s.conn = conn
	s.channel = ch
	s.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 64))

	s.logger.Info("Connected to RabbitMQ",
		zap.String("exchange", s.config.Exchange),
		zap.String("queue", s.config.Queue),
	)

	return nil
}

// Append publishes each sample and waits for every broker confirmation.
func (s *RabbitMQSink) Append(ctx context.Context, samples ...models.StatSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel == nil {
		return errors.New("rabbitmq sink: channel is not initialized")
	}

	for _, sample := range samples {
		body, err := json.Marshal(sampleMessage{
			VideoID:       sample.VideoID,
			RecordedAt:    sample.RecordedAt,
			DayIndex:      sample.DayIndex,
			ViewCount:     sample.ViewCount,
			LikeCount:     sample.LikeCount,
			FavoriteCount: sample.FavoriteCount,
			CommentCount:  sample.CommentCount,
			SourceTag:     sample.SourceTag,
		})
		if err != nil {
			return fmt.Errorf("rabbitmq sink: marshal sample: %w", err)
		}

		err = s.channel.PublishWithContext(
			ctx,
			s.config.Exchange,   // exchange
			s.config.RoutingKey, // routing key
			false,               // mandatory
			false,               // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    sample.RecordedAt,
				MessageId:    sample.SampleKey,
			},
		)
		if err != nil {
			return fmt.Errorf("rabbitmq sink: publish %s: %w", sample.VideoID, err)
		}

		// Confirms are delivered in publish order on a single channel.
		select {
		case confirm, ok := <-s.confirms:
			if !ok {
				return errors.New("rabbitmq sink: channel closed before confirmation")
			}
			if !confirm.Ack {
				return fmt.Errorf("rabbitmq sink: sample %s was not acknowledged by broker", sample.VideoID)
			}
		case <-time.After(confirmTimeout):
			return errors.New("rabbitmq sink: timeout waiting for publish confirmation")
		case <-ctx.Done():
			return ctx.Err()
		}

		s.logger.Debug("Published sample to RabbitMQ",
			zap.String("video_id", sample.VideoID),
			zap.Int("day_index", sample.DayIndex),
		)
	}

	return nil
}

// Close closes the channel and connection.
func (s *RabbitMQSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing rabbitmq sink: %w", errors.Join(errs...))
	}

	s.logger.Info("RabbitMQ sink closed")
	return nil
}

// IsHealthy reports whether the connection is open.
func (s *RabbitMQSink) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn != nil && !s.conn.IsClosed() && s.channel != nil
}
