package models

import (
	"time"

	"gorm.io/datatypes"
)

type GatewayEventStatus string

const (
	GatewayEventReceived   GatewayEventStatus = "received"
	GatewayEventProcessing GatewayEventStatus = "processing"
	GatewayEventProcessed  GatewayEventStatus = "processed"
	GatewayEventFailed     GatewayEventStatus = "failed"
)

// PaymentGatewayEvent stores provider webhook payloads with deduplication
// metadata and retry bookkeeping.
type PaymentGatewayEvent struct {
	ID                  uint               `gorm:"primaryKey" json:"id"`
	Provider            string             `gorm:"type:varchar(20);not null;uniqueIndex:ux_payment_gateway_events_provider_event,priority:1" json:"provider"`
	ProviderEventID     string             `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_gateway_events_provider_event,priority:2" json:"provider_event_id"`
	EventType           string             `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Payload             datatypes.JSON     `gorm:"type:json;not null" json:"payload"`
	PayloadHash         string             `gorm:"type:varchar(64);not null" json:"payload_hash"`
	SignatureValid      bool               `gorm:"not null;default:false" json:"signature_valid"`
	Status              GatewayEventStatus `gorm:"type:varchar(20);not null;default:'received';index:idx_payment_gateway_events_due,priority:1" json:"status"`
	Attempts            int                `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt       *time.Time         `gorm:"index:idx_payment_gateway_events_due,priority:2" json:"next_attempt_at,omitempty"`
	ProcessingStartedAt *time.Time         `json:"processing_started_at,omitempty"`
	ProcessedAt         *time.Time         `json:"processed_at,omitempty"`
	ErrorMessage        string             `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt           time.Time          `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt           time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}
