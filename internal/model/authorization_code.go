package model

import (
	"time"
)

// AuthorizationCode is a single-use, time-bounded token an administrator
// issues to gate one money movement. Used flips false -> true exactly once.
type AuthorizationCode struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Code           string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	Type           string     `gorm:"type:varchar(20);not null" json:"type"`
	AmountCeiling  *int64     `json:"amount_ceiling,omitempty"` // nil means unrestricted
	CreatedBy      int64      `gorm:"index;not null" json:"created_by"`
	UsedBy         *int64     `json:"used_by,omitempty"`
	TransactionRef *string    `gorm:"type:varchar(64)" json:"transaction_ref,omitempty"`
	ExpiresAt      time.Time  `gorm:"index;not null" json:"expires_at"`
	Used           bool       `gorm:"not null;default:false" json:"used"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	Notes          string     `gorm:"type:varchar(256)" json:"notes"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AuthorizationCode) TableName() string {
	return "authorization_code"
}

func (c *AuthorizationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
