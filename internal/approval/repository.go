package approval

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRequestNotFound = errors.New("approval request not found")
	ErrNotPending      = errors.New("approval request is not pending")
	ErrRequestExpired  = errors.New("approval request expired")
)

type Repository interface {
	Create(request *Request) error
	GetByRequestID(requestID string) (*Request, error)
	SetMessageRef(requestID, ref string) error

	// Approve transitions pending → approved and stores the code hash, or
	// flips an overdue pending row to expired. The whole check-and-set runs
	// in one transaction: two concurrent approvers cannot both succeed.
	Approve(requestID, codeHash string, now time.Time) (*Request, error)

	// Deny transitions pending → denied under the same guarantee.
	Deny(requestID string, now time.Time) (*Request, error)

	// ExpireIfOverdue lazily flips a pending row past its deadline to
	// expired, reporting whether this call performed the flip.
	ExpireIfOverdue(requestID string, now time.Time) (*Request, bool, error)

	// ConsumeCode clears the stored code hash, but only while the row is
	// still approved and still carries exactly that hash. Returns false when
	// the code was already consumed.
	ConsumeCode(requestID, codeHash string) (bool, error)

	// ExpirePendingBefore bulk-expires overdue pending rows; used by the
	// periodic sweeper, not required for correctness.
	ExpirePendingBefore(now time.Time) (int64, error)

	// DeleteTerminalBefore garbage-collects old terminal rows.
	DeleteTerminalBefore(cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(request *Request) error {
	return r.db.Create(request).Error
}

func (r *repository) GetByRequestID(requestID string) (*Request, error) {
	var request Request
	if err := r.db.Where("request_id = ?", requestID).First(&request).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &request, nil
}

func (r *repository) SetMessageRef(requestID, ref string) error {
	return r.db.Model(&Request{}).
		Where("request_id = ?", requestID).
		Update("message_ref", ref).Error
}

func (r *repository) Approve(requestID, codeHash string, now time.Time) (*Request, error) {
	return r.transition(requestID, now, func(request *Request) {
		request.Status = StatusApproved
		request.CodeHash = codeHash
		responded := now
		request.RespondedAt = &responded
	})
}

func (r *repository) Deny(requestID string, now time.Time) (*Request, error) {
	return r.transition(requestID, now, func(request *Request) {
		request.Status = StatusDenied
		responded := now
		request.RespondedAt = &responded
	})
}

// transition applies the single allowed pending→terminal mutation under a
// row lock, expiring overdue rows instead. The expiry flip must commit even
// though the caller gets an error, so the rejection travels outside the
// transaction callback (returning it from there would roll the flip back).
func (r *repository) transition(requestID string, now time.Time, apply func(*Request)) (*Request, error) {
	var request Request
	var rejection error

	err := r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("request_id = ?", requestID).
			First(&request).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRequestNotFound
		}
		if err != nil {
			return err
		}

		if request.Status != StatusPending {
			rejection = ErrNotPending
			return nil
		}
		if now.After(request.ExpiresAt) {
			request.Status = StatusExpired
			rejection = ErrRequestExpired
			return tx.Save(&request).Error
		}

		apply(&request)
		return tx.Save(&request).Error
	})
	if err != nil {
		return &request, err
	}
	if rejection != nil {
		return &request, rejection
	}

	return &request, nil
}

func (r *repository) ExpireIfOverdue(requestID string, now time.Time) (*Request, bool, error) {
	var request Request
	var flipped bool

	err := r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("request_id = ?", requestID).
			First(&request).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRequestNotFound
		}
		if err != nil {
			return err
		}

		if request.Status == StatusPending && now.After(request.ExpiresAt) {
			request.Status = StatusExpired
			flipped = true
			return tx.Save(&request).Error
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return &request, flipped, nil
}

func (r *repository) ConsumeCode(requestID, codeHash string) (bool, error) {
	result := r.db.Model(&Request{}).
		Where("request_id = ? AND status = ? AND code_hash = ?", requestID, StatusApproved, codeHash).
		Update("code_hash", "")
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) ExpirePendingBefore(now time.Time) (int64, error) {
	result := r.db.Model(&Request{}).
		Where("status = ? AND expires_at < ?", StatusPending, now).
		Update("status", StatusExpired)
	return result.RowsAffected, result.Error
}

func (r *repository) DeleteTerminalBefore(cutoff time.Time) (int64, error) {
	result := r.db.
		Where("status <> ? AND created_at < ?", StatusPending, cutoff).
		Delete(&Request{})
	return result.RowsAffected, result.Error
}
