package models

import "time"

// PayoutAccount links a host to its connected gateway account.
type PayoutAccount struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	HostID            uint       `gorm:"not null;uniqueIndex:ux_payout_accounts_host" json:"host_id"`
	StripeAccountID   string     `gorm:"type:varchar(191);not null;default:'';index" json:"stripe_account_id"`
	PayoutsEnabled    bool       `gorm:"not null;default:false" json:"payouts_enabled"`
	DetailsSubmitted  bool       `gorm:"not null;default:false" json:"details_submitted"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	MinTransferAmount *int64     `json:"min_transfer_amount,omitempty"`
	SettlementFrozen  bool       `gorm:"not null;default:false" json:"settlement_frozen"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsVerified reports whether transfers can be sent to the account.
func (a *PayoutAccount) IsVerified() bool {
	if a == nil {
		return false
	}
	return a.StripeAccountID != "" && a.PayoutsEnabled && a.VerifiedAt != nil
}
