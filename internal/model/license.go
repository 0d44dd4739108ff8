package model

import (
	"time"
)

type LicenseStatus string

const (
	LicenseUnused   LicenseStatus = "unused"
	LicenseRedeemed LicenseStatus = "redeemed"
)

// License is one issuable access code. Only the digest of the code is stored.
type License struct {
	ID               string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CodeHash         string        `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
	Status           LicenseStatus `json:"status" gorm:"type:varchar(16);not null;index"`
	Email            string        `json:"email" gorm:"not null"`
	Meta             string        `json:"-" gorm:"type:text;not null"`
	CreatedAt        time.Time     `json:"created_at" gorm:"index"`
	RedeemedAt       *time.Time    `json:"redeemed_at"`
	RedeemedIdentity *int64        `json:"redeemed_telegram_id" gorm:"column:redeemed_telegram_id;index"`
}

func (License) TableName() string { return "licenses" }

// IsRedeemed reports whether the code has already been used.
func (l *License) IsRedeemed() bool {
	return l.Status == LicenseRedeemed
}
