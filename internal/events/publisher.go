package events

import (
	"context"
	"encoding/json"
	"time"

	"VirtualDocGateway/internal/domain"
	"VirtualDocGateway/pkg/logger"
	"VirtualDocGateway/pkg/rabbitmq"
)

// Publisher интерфейс публикации событий изменения документов
// Публикация происходит после успешной записи и никогда не влияет на ее исход
type Publisher interface {
	PublishChange(ctx context.Context, db string, change domain.ChangeRecord)
}

// ChangeEvent представляет событие изменения документа для внешних потребителей
type ChangeEvent struct {
	DB        string    `json:"db"`
	DocID     string    `json:"doc_id"`
	Rev       string    `json:"rev,omitempty"`
	Deleted   bool      `json:"deleted"`
	Timestamp time.Time `json:"timestamp"`
}

// AMQPPublisher публикует события изменений в RabbitMQ
type AMQPPublisher struct {
	producer *rabbitmq.Producer
	logger   logger.Logger
}

// NewAMQPPublisher создает публикатора поверх продюсера RabbitMQ
func NewAMQPPublisher(producer *rabbitmq.Producer, log logger.Logger) *AMQPPublisher {
	return &AMQPPublisher{producer: producer, logger: log.Named("events")}
}

// PublishChange публикует событие изменения
// Ошибка публикации логируется и не возвращается: запись уже состоялась
func (p *AMQPPublisher) PublishChange(ctx context.Context, db string, change domain.ChangeRecord) {
	event := ChangeEvent{
		DB:        db,
		DocID:     change.DocID,
		Rev:       change.Rev,
		Deleted:   change.Deleted,
		Timestamp: time.Now().UTC(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal change event", logger.Error(err))
		return
	}

	if err := p.producer.Publish(ctx, body, rabbitmq.WithRoutingKey("doc.changes."+db)); err != nil {
		p.logger.Warn("failed to publish change event",
			logger.String("db", db),
			logger.String("doc_id", change.DocID),
			logger.Error(err))
	}
}

// NoopPublisher заглушка, используется когда брокер не сконфигурирован
type NoopPublisher struct{}

// PublishChange ничего не делает
func (NoopPublisher) PublishChange(ctx context.Context, db string, change domain.ChangeRecord) {}
