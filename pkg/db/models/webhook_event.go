package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/custody-backend/pkg/enums"
)

// WebhookEvent is the dedup record for an inbound provider notification. The
// unique event_id is the sole arbiter of first delivery.
type WebhookEvent struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	EventID        string              `gorm:"column:event_id;not null;uniqueIndex:idx_webhook_events_event_id"`
	Provider       string              `gorm:"column:provider;not null"`
	PayloadHash    string              `gorm:"column:payload_hash;not null"`
	Payload        []byte              `gorm:"column:payload;not null"`
	SignatureValid bool                `gorm:"column:signature_valid;not null"`
	Result         enums.WebhookResult `gorm:"column:result;type:text;not null;index"`
	ErrorMessage   *string             `gorm:"column:error_message"`
	Attempts       int                 `gorm:"column:attempts;not null;default:1"`
	ReceivedAt     time.Time           `gorm:"column:received_at;not null"`
	ProcessedAt    *time.Time          `gorm:"column:processed_at"`
}

func (w *WebhookEvent) BeforeCreate(*gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
