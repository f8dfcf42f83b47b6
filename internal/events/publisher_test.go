package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VirtualDocGateway/internal/domain"
	"VirtualDocGateway/pkg/logger"
	"VirtualDocGateway/pkg/rabbitmq"
)

func TestChangeEventJSON(t *testing.T) {
	event := ChangeEvent{
		DB:        "users",
		DocID:     "user_abc",
		Rev:       "2-def",
		Deleted:   true,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "users", decoded["db"])
	assert.Equal(t, "user_abc", decoded["doc_id"])
	assert.Equal(t, true, decoded["deleted"])
}

func TestAMQPPublisher_PublishFailureIsSwallowed(t *testing.T) {
	// Продюсер без канала всегда отказывает; публикация не должна паниковать
	producer := rabbitmq.NewProducer(&rabbitmq.Connection{}, rabbitmq.NewConfig())
	publisher := NewAMQPPublisher(producer, logger.NewNop())

	assert.NotPanics(t, func() {
		publisher.PublishChange(context.Background(), "users", domain.ChangeRecord{
			DocID: "user_abc",
			Rev:   "1-aaa",
		})
	})
}

func TestNoopPublisher(t *testing.T) {
	assert.NotPanics(t, func() {
		NoopPublisher{}.PublishChange(context.Background(), "users", domain.ChangeRecord{})
	})
}
