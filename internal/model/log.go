package model

import "time"

const (
	ActionLicenseIssue  = "license.issue"
	ActionLicenseRedeem = "license.redeem"
)

// OperationLog records who issued or redeemed which license. Details never carry codes.
type OperationLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action" gorm:"index"`
	Target    string    `json:"target"`
	TargetID  string    `json:"target_id"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}
