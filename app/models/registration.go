package models

import "time"

type RegistrationStatus string

const (
	RegistrationStatusPending   RegistrationStatus = "pending"
	RegistrationStatusConfirmed RegistrationStatus = "confirmed"
	RegistrationStatusCancelled RegistrationStatus = "cancelled"
	RegistrationStatusRefunded  RegistrationStatus = "refunded"
)

// Registration is the purchase a payment pays for.
type Registration struct {
	ID          uint               `gorm:"primaryKey" json:"id"`
	CommunityID uint               `gorm:"index" json:"community_id"`
	EventID     uint               `gorm:"index" json:"event_id"`
	UserID      uint               `gorm:"index" json:"user_id"`
	Status      RegistrationStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	ConfirmedAt *time.Time         `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}
