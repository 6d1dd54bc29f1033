package session

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

type Repository interface {
	Create(session *Session) error
	GetByTokenHash(tokenHash string) (*Session, error)
	TouchActivity(tokenHash string, now time.Time) error
	Revoke(tokenHash string, now time.Time) error
	RevokeAllForUser(userID uint, now time.Time) (int64, error)
	DeleteExpiredBefore(cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(session *Session) error {
	return r.db.Create(session).Error
}

func (r *repository) GetByTokenHash(tokenHash string) (*Session, error) {
	var session Session
	if err := r.db.Where("token_hash = ?", tokenHash).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *repository) TouchActivity(tokenHash string, now time.Time) error {
	return r.db.Model(&Session{}).
		Where("token_hash = ?", tokenHash).
		Update("last_activity_at", now).Error
}

func (r *repository) Revoke(tokenHash string, now time.Time) error {
	result := r.db.Model(&Session{}).
		Where("token_hash = ? AND revoked_at IS NULL", tokenHash).
		Update("revoked_at", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *repository) RevokeAllForUser(userID uint, now time.Time) (int64, error) {
	result := r.db.Model(&Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", now)
	return result.RowsAffected, result.Error
}

func (r *repository) DeleteExpiredBefore(cutoff time.Time) (int64, error) {
	result := r.db.
		Where("expires_at < ?", cutoff).
		Delete(&Session{})
	return result.RowsAffected, result.Error
}
