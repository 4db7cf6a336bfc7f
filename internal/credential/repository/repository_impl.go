package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/credential/domain"
	"github.com/smallbiznis/clavis/internal/rowfilter"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

// Password tables are read unfiltered; credential checks happen before any
// tenant filter is installed.
func (r *repository) raw(ctx context.Context) *gorm.DB {
	return rowfilter.Skip(r.db.WithContext(ctx))
}

func (r *repository) CurrentRecord(ctx context.Context, userID snowflake.ID, now time.Time) (*domain.PasswordRecord, error) {
	var record domain.PasswordRecord
	err := r.raw(ctx).
		Where("user_id = ? AND (end_date IS NULL OR end_date > ?)", userID, now).
		Order("start_date DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoCurrentPassword
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) RecentRecords(ctx context.Context, userID snowflake.ID, n int) ([]domain.PasswordRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	var records []domain.PasswordRecord
	err := r.raw(ctx).
		Where("user_id = ?", userID).
		Order("start_date DESC").
		Limit(n).
		Find(&records).Error
	return records, err
}

func (r *repository) CloseRecord(ctx context.Context, recordID snowflake.ID, endDate time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.PasswordRecord{}).
		Where("id = ?", recordID).
		Update("end_date", endDate)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNoCurrentPassword
	}
	return nil
}

func (r *repository) InsertRecord(ctx context.Context, record domain.PasswordRecord) error {
	return r.db.WithContext(ctx).Create(&record).Error
}

func (r *repository) HasOpenRecord(ctx context.Context, userID snowflake.ID, now time.Time) (bool, error) {
	var count int64
	err := r.raw(ctx).Model(&domain.PasswordRecord{}).
		Where("user_id = ? AND (end_date IS NULL OR end_date > ?)", userID, now).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) CreateAttempt(ctx context.Context, attempt domain.LoginAttempt) error {
	return r.db.WithContext(ctx).Create(&attempt).Error
}

func (r *repository) SetLogout(ctx context.Context, attemptID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.LoginAttempt{}).
		Where("id = ?", attemptID).
		Update("logout_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

func (r *repository) ConsecutiveFailures(ctx context.Context, userID snowflake.ID) (int, error) {
	var attempts []domain.LoginAttempt
	err := r.raw(ctx).
		Where("user_id = ?", userID).
		Order("at DESC").
		Limit(100).
		Find(&attempts).Error
	if err != nil {
		return 0, err
	}
	failures := 0
	for _, attempt := range attempts {
		if attempt.Success {
			break
		}
		failures++
	}
	return failures, nil
}
