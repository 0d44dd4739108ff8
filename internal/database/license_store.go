package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"license-gate/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200

	defaultQueryTimeout = 5 * time.Second
)

// LicenseStore persists license records. Every call is bounded by the query timeout,
// which also bounds the wait for a pooled connection.
type LicenseStore struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewLicenseStore(db *gorm.DB, timeout time.Duration) *LicenseStore {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &LicenseStore{db: db, timeout: timeout}
}

// ClampLimit bounds an admin listing size into [1, MaxListLimit].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func (s *LicenseStore) Create(ctx context.Context, lic *model.License) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if lic.Status == "" {
		lic.Status = model.LicenseUnused
	}
	if lic.Meta == "" {
		lic.Meta = "{}"
	}

	err := s.db.WithContext(ctx).Create(lic).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateCode
	}
	return storeErr("create license", err)
}

// FindByDigest returns nil without error when no license carries the digest.
func (s *LicenseStore) FindByDigest(ctx context.Context, digest string) (*model.License, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var lic model.License
	err := s.db.WithContext(ctx).Where("code_hash = ?", digest).Take(&lic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("find license", err)
	}
	return &lic, nil
}

// Redeem flips an unused license to redeemed and binds it to identity. The row is
// read with FOR UPDATE so concurrent redeemers of the same code wait for each other;
// the update is also conditional on status so only one of them can ever win.
func (s *LicenseStore) Redeem(ctx context.Context, digest string, identity int64, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	redeemed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lic model.License
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "status").
			Where("code_hash = ?", digest).
			Take(&lic).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if lic.IsRedeemed() {
			return nil
		}

		res := tx.Model(&model.License{}).
			Where("id = ? AND status = ?", lic.ID, model.LicenseUnused).
			Updates(map[string]interface{}{
				"status":               model.LicenseRedeemed,
				"redeemed_at":          now.UTC(),
				"redeemed_telegram_id": identity,
			})
		if res.Error != nil {
			return res.Error
		}
		redeemed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, storeErr("redeem license", err)
	}
	return redeemed, nil
}

func (s *LicenseStore) HasRedemption(ctx context.Context, identity int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var n int64
	err := s.db.WithContext(ctx).Model(&model.License{}).
		Where("redeemed_telegram_id = ? AND status = ?", identity, model.LicenseRedeemed).
		Count(&n).Error
	if err != nil {
		return false, storeErr("check redemption", err)
	}
	return n > 0, nil
}

// List returns the newest licenses first.
func (s *LicenseStore) List(ctx context.Context, limit int) ([]model.License, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var licenses []model.License
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(ClampLimit(limit)).
		Find(&licenses).Error
	if err != nil {
		return nil, storeErr("list licenses", err)
	}
	return licenses, nil
}

// All returns every license, oldest first. Used for full sheet exports.
func (s *LicenseStore) All(ctx context.Context) ([]model.License, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var licenses []model.License
	if err := s.db.WithContext(ctx).Order("created_at ASC").Order("id ASC").Find(&licenses).Error; err != nil {
		return nil, storeErr("all licenses", err)
	}
	return licenses, nil
}

func (s *LicenseStore) Statistics(ctx context.Context, now time.Time) (*model.LicenseStatistics, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now = now.UTC()
	db := s.db.WithContext(ctx)
	stats := &model.LicenseStatistics{LicensesByDomain: make(map[string]int64)}

	counts := []struct {
		dst   *int64
		query *gorm.DB
	}{
		{&stats.TotalLicenses, db.Model(&model.License{})},
		{&stats.UnusedLicenses, db.Model(&model.License{}).Where("status = ?", model.LicenseUnused)},
		{&stats.RedeemedLicenses, db.Model(&model.License{}).Where("status = ?", model.LicenseRedeemed)},
		{&stats.RedeemedLastDay, db.Model(&model.License{}).
			Where("status = ? AND redeemed_at >= ?", model.LicenseRedeemed, now.Add(-24*time.Hour))},
		{&stats.RedeemedLastWeek, db.Model(&model.License{}).
			Where("status = ? AND redeemed_at >= ?", model.LicenseRedeemed, now.Add(-7*24*time.Hour))},
		{&stats.DistinctHolders, db.Model(&model.License{}).
			Distinct("redeemed_telegram_id").
			Where("status = ?", model.LicenseRedeemed)},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dst).Error; err != nil {
			return nil, storeErr("license statistics", err)
		}
	}

	var owners []struct {
		Email string
		Count int64
	}
	err := db.Model(&model.License{}).
		Select("email, COUNT(*) AS count").
		Group("email").
		Scan(&owners).Error
	if err != nil {
		return nil, storeErr("license statistics", err)
	}
	for _, o := range owners {
		stats.LicensesByDomain[emailDomain(o.Email)] += o.Count
	}

	return stats, nil
}

func emailDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 && i < len(email)-1 {
		return email[i+1:]
	}
	return "unknown"
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
