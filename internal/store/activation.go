package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// InsertActivation writes an Activation and its sidecar extra row together.
func InsertActivation(tx *gorm.DB, act *Activation, extra *ActivationExtra) error {
	act.CreatedAt = Now()
	if err := tx.Create(act).Error; err != nil {
		return err
	}
	if extra != nil {
		extra.ActivationID = act.ID
		if err := tx.Create(extra).Error; err != nil {
			return err
		}
	}
	return nil
}

// LiveActivationWithinDays returns the most recent activation for trainID
// created within the last `days`, implementing spec.md §3's invariant check
// ("every live movement/cancellation carries a train-id that has a live
// activation within the last 4 days") and §4.E's deduced-activation trigger.
func LiveActivationWithinDays(tx *gorm.DB, trainID string, days int, now time.Time) (*Activation, bool, error) {
	var act Activation
	cutoff := now.AddDate(0, 0, -days)
	err := tx.Where("train_id = ? AND created_at >= ?", trainID, cutoff).
		Order("created_at DESC").First(&act).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &act, true, nil
}

// InsertMovement writes a Movement row.
func InsertMovement(tx *gorm.DB, m *Movement) error {
	m.CreatedAt = Now()
	return tx.Create(m).Error
}

// InsertCancellation writes a Cancellation row (covers both msg_type 0002
// cancel and 0005 reinstate, distinguished by Reinstate).
func InsertCancellation(tx *gorm.DB, c *Cancellation) error {
	c.CreatedAt = Now()
	return tx.Create(c).Error
}

// InsertChangeOfOrigin writes a msg_type 0006 audit row.
func InsertChangeOfOrigin(tx *gorm.DB, c *ChangeOfOrigin) error {
	c.CreatedAt = Now()
	return tx.Create(c).Error
}

// InsertChangeOfID writes a msg_type 0007 audit row.
func InsertChangeOfID(tx *gorm.DB, c *ChangeOfID) error {
	c.CreatedAt = Now()
	return tx.Create(c).Error
}

// InsertChangeOfLocation writes a msg_type 0008 audit row.
func InsertChangeOfLocation(tx *gorm.DB, c *ChangeOfLocation) error {
	c.CreatedAt = Now()
	return tx.Create(c).Error
}

// UpsertStatus applies a partial update to the single-row Status table
// (spec.md §3), creating it if absent.
func UpsertStatus(tx *gorm.DB, update map[string]any) error {
	var existing Status
	err := tx.First(&existing, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		existing = Status{ID: 1}
		if err := tx.Create(&existing).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return tx.Model(&Status{}).Where("id = 1").Updates(update).Error
}
