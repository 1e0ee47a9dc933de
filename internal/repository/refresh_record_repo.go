package repository

import (
	"context"
	"errors"
	"time"

	"schooldesk/internal/domain"

	"gorm.io/gorm"
)

// ErrRecordNotFound is returned by ledger lookups regardless of backend.
var ErrRecordNotFound = errors.New("refresh record not found")

// RefreshRecordRepository is the SQL-backed refresh ledger.
type RefreshRecordRepository struct {
	db *gorm.DB
}

func NewRefreshRecordRepository(db *gorm.DB) *RefreshRecordRepository {
	return &RefreshRecordRepository{db: db}
}

func (r *RefreshRecordRepository) Create(ctx context.Context, rec *domain.RefreshRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *RefreshRecordRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshRecord, error) {
	var rec domain.RefreshRecord
	tx := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&rec)
	if tx.Error != nil {
		if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, tx.Error
	}
	return &rec, nil
}

// ConsumeIfUnused marks the record as used. The conditional update is the
// single point that keeps rotation correct across backend instances: at
// most one caller observes true for a given record.
func (r *RefreshRecordRepository) ConsumeIfUnused(ctx context.Context, id int64, now time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&domain.RefreshRecord{}).
		Where("id = ? AND used_at IS NULL AND revoked_at IS NULL", id).
		Update("used_at", now)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// LinkRotation records the forward link from a consumed record to its successor.
func (r *RefreshRecordRepository) LinkRotation(ctx context.Context, fromID, toID int64) error {
	return r.db.WithContext(ctx).
		Model(&domain.RefreshRecord{}).
		Where("id = ?", fromID).
		Update("rotated_to", toID).Error
}

func (r *RefreshRecordRepository) RevokeFamily(ctx context.Context, familyID, reason string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.RefreshRecord{}).
		Where("family_id = ? AND revoked_at IS NULL", familyID).
		Updates(map[string]any{
			"revoked_at":     now,
			"revoked_reason": reason,
		}).Error
}

func (r *RefreshRecordRepository) Revoke(ctx context.Context, id int64, reason string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.RefreshRecord{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]any{
			"revoked_at":     now,
			"revoked_reason": reason,
		}).Error
}

func (r *RefreshRecordRepository) RevokeByUser(ctx context.Context, userID int64, reason string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.RefreshRecord{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]any{
			"revoked_at":     now,
			"revoked_reason": reason,
		}).Error
}

// DeleteExpired removes records past expiry, plus revoked records older
// than the retention window. Rotated-but-unexpired records are left to
// expire naturally; this sweep runs from cmd/auth_cleanup.
func (r *RefreshRecordRepository) DeleteExpired(ctx context.Context, now time.Time, revokedRetention time.Duration) (int64, error) {
	tx := r.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Or("revoked_at IS NOT NULL AND created_at < ?", now.Add(-revokedRetention)).
		Delete(&domain.RefreshRecord{})
	return tx.RowsAffected, tx.Error
}
