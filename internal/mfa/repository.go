package mfa

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrMethodNotFound = errors.New("mfa method not found")
	ErrCodeNotFound   = errors.New("verification code not found")
)

type Repository interface {
	UpsertMethod(method *Method) error
	GetMethod(userID uint, methodType string) (*Method, error)
	ListMethods(userID uint) ([]Method, error)
	DeactivateMethod(userID uint, methodType string) error

	// ReplaceBackupCodes drops every prior code for the user, used or not,
	// and inserts the new batch in the same transaction.
	ReplaceBackupCodes(userID uint, hashes []string) error

	// ConsumeBackupCode marks the unused row matching hash as used. The
	// select-then-mark runs in one transaction so two concurrent callers
	// cannot both consume the same code. Returns false when no unused row
	// matches.
	ConsumeBackupCode(userID uint, hash string, now time.Time) (bool, error)

	UpsertTrustedDevice(device *TrustedDevice) error

	// TouchTrustedDevice returns the unexpired row for (user, fingerprint)
	// and refreshes last_used, without extending expires_at.
	TouchTrustedDevice(userID uint, fingerprint string, now time.Time) (*TrustedDevice, error)

	// CreateVerificationCode invalidates prior unconsumed codes for the same
	// subject and type, then inserts the new one. now stamps used_at on the
	// invalidated rows.
	CreateVerificationCode(code *VerificationCode, now time.Time) error

	// FindActiveVerificationCode returns the single unconsumed, unexpired
	// code for the subject and type.
	FindActiveVerificationCode(userID *uint, externalID, codeType string, now time.Time) (*VerificationCode, error)

	IncrementVerificationAttempts(id uint) error
	MarkVerificationCodeUsed(id uint, now time.Time) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) UpsertMethod(method *Method) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "method_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "is_primary", "is_active", "updated_at"}),
	}).Create(method).Error
}

func (r *repository) GetMethod(userID uint, methodType string) (*Method, error) {
	var method Method
	err := r.db.
		Where("user_id = ? AND method_type = ? AND is_active = ?", userID, methodType, true).
		First(&method).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMethodNotFound
		}
		return nil, err
	}
	return &method, nil
}

func (r *repository) ListMethods(userID uint) ([]Method, error) {
	var methods []Method
	err := r.db.Where("user_id = ?", userID).Order("method_type").Find(&methods).Error
	return methods, err
}

func (r *repository) DeactivateMethod(userID uint, methodType string) error {
	result := r.db.Model(&Method{}).
		Where("user_id = ? AND method_type = ?", userID, methodType).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMethodNotFound
	}
	return nil
}

func (r *repository) ReplaceBackupCodes(userID uint, hashes []string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&BackupCode{}).Error; err != nil {
			return err
		}

		codes := make([]BackupCode, 0, len(hashes))
		for _, h := range hashes {
			codes = append(codes, BackupCode{UserID: userID, CodeHash: h})
		}
		return tx.Create(&codes).Error
	})
}

func (r *repository) ConsumeBackupCode(userID uint, hash string, now time.Time) (bool, error) {
	consumed := false

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var code BackupCode
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND code_hash = ? AND used_at IS NULL", userID, hash).
			First(&code).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&code).Update("used_at", now).Error; err != nil {
			return err
		}
		consumed = true
		return nil
	})

	return consumed, err
}

func (r *repository) UpsertTrustedDevice(device *TrustedDevice) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "fingerprint"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "expires_at", "updated_at"}),
	}).Create(device).Error
}

func (r *repository) TouchTrustedDevice(userID uint, fingerprint string, now time.Time) (*TrustedDevice, error) {
	var device TrustedDevice
	err := r.db.
		Where("user_id = ? AND fingerprint = ? AND expires_at > ?", userID, fingerprint, now).
		First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := r.db.Model(&device).Update("last_used_at", now).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *repository) CreateVerificationCode(code *VerificationCode, now time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		invalidate := tx.Model(&VerificationCode{}).
			Where("code_type = ? AND used_at IS NULL", code.CodeType)
		if code.UserID != nil {
			invalidate = invalidate.Where("user_id = ?", *code.UserID)
		} else {
			invalidate = invalidate.Where("external_id = ?", code.ExternalID)
		}
		if err := invalidate.Update("used_at", now).Error; err != nil {
			return err
		}

		return tx.Create(code).Error
	})
}

func (r *repository) FindActiveVerificationCode(userID *uint, externalID, codeType string, now time.Time) (*VerificationCode, error) {
	query := r.db.Where("code_type = ? AND used_at IS NULL AND expires_at > ?", codeType, now)
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	} else {
		query = query.Where("external_id = ?", externalID)
	}

	var code VerificationCode
	if err := query.Order("created_at DESC").First(&code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	return &code, nil
}

func (r *repository) IncrementVerificationAttempts(id uint) error {
	return r.db.Model(&VerificationCode{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}

func (r *repository) MarkVerificationCodeUsed(id uint, now time.Time) error {
	return r.db.Model(&VerificationCode{}).
		Where("id = ?", id).
		Update("used_at", now).Error
}
