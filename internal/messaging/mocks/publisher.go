package mocks

import (
	"context"

	"novel-engine/internal/models"

	"github.com/stretchr/testify/mock"
)

// EventPublisher - мок interfaces.EventPublisher.
type EventPublisher struct {
	mock.Mock
}

func (m *EventPublisher) PublishProgressEvent(ctx context.Context, event models.ProgressEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
