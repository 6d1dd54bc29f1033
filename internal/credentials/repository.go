package credentials

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserExists    = errors.New("user already exists")
	ErrAccountLocked = errors.New("account is locked")
	ErrBadTransition = errors.New("invalid status transition")
)

type Repository interface {
	CreateUser(user *User) error
	GetUserByID(id uint) (*User, error)
	GetUserByExternalID(externalID string) (*User, error)
	UpdateStatus(userID uint, status Status) error
	UpdateRole(userID uint, role string) error
	SetMFAEnabled(userID uint, enabled bool) error

	// RecordFailure atomically increments the failure counter and applies the
	// lockout once the threshold is reached, returning the updated user.
	RecordFailure(userID uint, threshold int, lockout time.Duration, now time.Time) (*User, error)

	// RecordSuccess resets the failure counter, clears any lock and stamps
	// last_login.
	RecordSuccess(userID uint, now time.Time) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateUser(user *User) error {
	err := r.db.Create(user).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrUserExists
	}
	return err
}

func (r *repository) GetUserByID(id uint) (*User, error) {
	var user User
	if err := r.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) GetUserByExternalID(externalID string) (*User, error) {
	var user User
	if err := r.db.Where("external_id = ?", externalID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) UpdateStatus(userID uint, status Status) error {
	return r.db.Model(&User{}).Where("id = ?", userID).Update("status", status).Error
}

func (r *repository) UpdateRole(userID uint, role string) error {
	return r.db.Model(&User{}).Where("id = ?", userID).Update("role", role).Error
}

func (r *repository) SetMFAEnabled(userID uint, enabled bool) error {
	return r.db.Model(&User{}).Where("id = ?", userID).Update("mfa_enabled", enabled).Error
}

func (r *repository) RecordFailure(userID uint, threshold int, lockout time.Duration, now time.Time) (*User, error) {
	var user User

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		user.FailedLoginCount++
		if user.FailedLoginCount >= threshold {
			until := now.Add(lockout)
			user.LockedUntil = &until
		}

		return tx.Save(&user).Error
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *repository) RecordSuccess(userID uint, now time.Time) error {
	return r.db.Model(&User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"failed_login_count": 0,
		"locked_until":       nil,
		"last_login_at":      now,
	}).Error
}
