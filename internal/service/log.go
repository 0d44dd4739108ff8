package service

import (
	"context"
	"encoding/json"
	"time"

	"license-gate/internal/model"

	"gorm.io/gorm"
)

const MaxLogPageSize = 100

// AuditLog stores operation log rows for license issuance and redemption.
type AuditLog struct {
	db *gorm.DB
}

func NewAuditLog(db *gorm.DB) *AuditLog {
	return &AuditLog{db: db}
}

func (a *AuditLog) Record(ctx context.Context, actor, action, target, targetID string, details interface{}) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}

	entry := &model.OperationLog{
		Actor:     actor,
		Action:    action,
		Target:    target,
		TargetID:  targetID,
		Details:   string(detailsJSON),
		CreatedAt: time.Now().UTC(),
	}

	return a.db.WithContext(ctx).Create(entry).Error
}

// List returns one page of operation logs, newest first.
func (a *AuditLog) List(ctx context.Context, page, pageSize int) ([]model.OperationLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > MaxLogPageSize {
		pageSize = MaxLogPageSize
	}

	var logs []model.OperationLog
	var total int64

	db := a.db.WithContext(ctx)

	if err := db.Model(&model.OperationLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := db.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(pageSize).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
