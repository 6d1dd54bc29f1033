package ratelimit

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	// Increment bumps the counter for (identifier, action) and returns the
	// post-increment count for the current window. When the stored window has
	// elapsed it is replaced with a fresh one. The read-then-write runs in a
	// single transaction so concurrent callers cannot double-count.
	Increment(identifier, action string, window time.Duration, now time.Time) (int, error)

	// Reset drops the window row, if any.
	Reset(identifier, action string) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Increment(identifier, action string, window time.Duration, now time.Time) (int, error) {
	var count int

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var row Window
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("identifier = ? AND action = ?", identifier, action).
			First(&row).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = Window{
				Identifier:  identifier,
				Action:      action,
				Count:       1,
				WindowStart: now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		case now.Sub(row.WindowStart) >= window:
			row.Count = 1
			row.WindowStart = now
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		default:
			row.Count++
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}

		count = row.Count
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (r *repository) Reset(identifier, action string) error {
	return r.db.
		Where("identifier = ? AND action = ?", identifier, action).
		Delete(&Window{}).Error
}
