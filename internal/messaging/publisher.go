package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	publishAttempts = 3
	publishTimeout  = 10 * time.Second
	appID           = "novel-engine"
)

// Channel - часть *amqp.Channel, нужная издателю.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

var _ interfaces.EventPublisher = (*rabbitMQEventPublisher)(nil)

type rabbitMQEventPublisher struct {
	channel   Channel
	queueName string
	logger    *zap.Logger
	backoff   time.Duration
}

// NewRabbitMQEventPublisher объявляет durable-очередь событий прогрессии и возвращает издателя.
func NewRabbitMQEventPublisher(ch Channel, queueName string, logger *zap.Logger) (interfaces.EventPublisher, error) {
	if ch == nil {
		return nil, errors.New("канал RabbitMQ не инициализирован")
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("event publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}
	log := logger.Named("EventPublisher")
	log.Info("Progress events queue declared", zap.String("queue", queueName))
	return &rabbitMQEventPublisher{channel: ch, queueName: queueName, logger: log, backoff: 100 * time.Millisecond}, nil
}

func (p *rabbitMQEventPublisher) PublishProgressEvent(ctx context.Context, event models.ProgressEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события %s: %w", event.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	logFields := []zap.Field{
		zap.String("eventID", event.EventID),
		zap.String("type", string(event.Type)),
		zap.Stringer("playerID", event.PlayerID),
	}
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		err = p.channel.PublishWithContext(ctx, "", p.queueName, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.EventID,
			Type:         string(event.Type),
			Timestamp:    event.OccurredAt,
			AppId:        appID,
			Body:         body,
		})
		if err == nil {
			p.logger.Debug("Progress event published", append(logFields, zap.Int("attempt", attempt))...)
			return nil
		}
		p.logger.Warn("Progress event publish failed", append(logFields, zap.Int("attempt", attempt), zap.Error(err))...)
		if attempt < publishAttempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("ошибка публикации в очередь %s: %w", p.queueName, ctx.Err())
			case <-time.After(time.Duration(attempt) * p.backoff):
			}
		}
	}
	return fmt.Errorf("ошибка публикации в очередь %s после %d попыток: %w", p.queueName, publishAttempts, err)
}

type noopPublisher struct{}

// NewNoopPublisher возвращает издателя, который ничего не отправляет.
func NewNoopPublisher() interfaces.EventPublisher { return noopPublisher{} }

func (noopPublisher) PublishProgressEvent(context.Context, models.ProgressEvent) error { return nil }

// Connect подключается к RabbitMQ с несколькими попытками.
func Connect(url string, attempts int, delay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < attempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Не удалось подключиться к RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
			zap.Duration("retry_delay", delay),
			zap.Error(err),
		)
		time.Sleep(delay)
	}
	return nil, err
}
