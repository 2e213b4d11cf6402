package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Maskeit/api-cisnatura/internal/model"
)

// WebhookEventRepository keeps an audit trail of inbound provider events.
// It is never consulted for idempotency decisions.
type WebhookEventRepository interface {
	Record(ctx context.Context, event *model.PaymentEvent) error
}

type webhookEventRepositoryImpl struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepositoryImpl{db: db}
}

func (r *webhookEventRepositoryImpl) Record(ctx context.Context, event *model.PaymentEvent) error {
	return r.db.WithContext(ctx).Create(&model.WebhookEvent{
		Provider:    event.Provider,
		EventID:     event.EventID,
		EventType:   event.EventType,
		PaymentRef:  event.PaymentRef,
		Status:      string(event.Status),
		ProcessedAt: time.Now(),
	}).Error
}
