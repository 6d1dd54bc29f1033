package passkey

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExists   = errors.New("credential already registered")
	ErrNoChallenge        = errors.New("no pending challenge")
)

type Repository interface {
	CreateCredential(credential *Credential) error
	GetCredential(credentialID string) (*Credential, error)
	ListCredentials(userID uint) ([]Credential, error)
	UpdateSignCount(credentialID string, count uint32, now time.Time) error
	TouchCredential(credentialID string, now time.Time) error
	DeleteCredential(userID uint, credentialID string) error

	// SaveChallenge replaces any pending challenge for (user, ceremony).
	SaveChallenge(challenge *Challenge) error
	GetChallenge(userID uint, ceremony string) (*Challenge, error)
	ClearChallenge(userID uint, ceremony string) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateCredential(credential *Credential) error {
	err := r.db.Create(credential).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrCredentialExists
	}
	return err
}

func (r *repository) GetCredential(credentialID string) (*Credential, error) {
	var credential Credential
	if err := r.db.Where("credential_id = ?", credentialID).First(&credential).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return &credential, nil
}

func (r *repository) ListCredentials(userID uint) ([]Credential, error) {
	var credentials []Credential
	err := r.db.Where("user_id = ?", userID).Order("created_at").Find(&credentials).Error
	return credentials, err
}

func (r *repository) UpdateSignCount(credentialID string, count uint32, now time.Time) error {
	return r.db.Model(&Credential{}).
		Where("credential_id = ?", credentialID).
		Updates(map[string]interface{}{
			"sign_count":   count,
			"last_used_at": now,
		}).Error
}

func (r *repository) TouchCredential(credentialID string, now time.Time) error {
	return r.db.Model(&Credential{}).
		Where("credential_id = ?", credentialID).
		Update("last_used_at", now).Error
}

func (r *repository) DeleteCredential(userID uint, credentialID string) error {
	result := r.db.
		Where("user_id = ? AND credential_id = ?", userID, credentialID).
		Delete(&Credential{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func (r *repository) SaveChallenge(challenge *Challenge) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "ceremony"}},
		DoUpdates: clause.AssignmentColumns([]string{"challenge", "expires_at"}),
	}).Create(challenge).Error
}

func (r *repository) GetChallenge(userID uint, ceremony string) (*Challenge, error) {
	var challenge Challenge
	err := r.db.Where("user_id = ? AND ceremony = ?", userID, ceremony).First(&challenge).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoChallenge
		}
		return nil, err
	}
	return &challenge, nil
}

func (r *repository) ClearChallenge(userID uint, ceremony string) error {
	return r.db.
		Where("user_id = ? AND ceremony = ?", userID, ceremony).
		Delete(&Challenge{}).Error
}
