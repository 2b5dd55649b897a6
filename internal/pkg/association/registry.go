package association

import (
	"context"
	"errors"

	"github.com/pythonitalia/pycon-association/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Registry provides CRUD over memberships.
type Registry struct {
	db *gorm.DB
}

// NewRegistry creates a membership registry backed by GORM.
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// WithTx returns a registry bound to tx.
func (r *Registry) WithTx(tx *gorm.DB) *Registry {
	return &Registry{db: tx}
}

func (r *Registry) Get(ctx context.Context, id uint) (*models.Membership, error) {
	var m models.Membership
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Registry) GetByUserID(ctx context.Context, userID uint) (*models.Membership, error) {
	var m models.Membership
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetOrCreate returns the user's membership, creating a PENDING one when the
// user has none. A concurrent creation for the same user is absorbed by the
// unique index on user_id.
func (r *Registry) GetOrCreate(ctx context.Context, userID uint) (*models.Membership, bool, error) {
	if userID == 0 {
		return nil, false, errors.New("user_id is required")
	}
	m := &models.Membership{UserID: userID, Status: models.MembershipStatusPending}
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(m)
	if tx.Error != nil {
		return nil, false, tx.Error
	}
	created := tx.RowsAffected > 0

	stored, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// List returns memberships, optionally restricted to the given statuses.
func (r *Registry) List(ctx context.Context, statuses ...models.MembershipStatus) ([]models.Membership, error) {
	var out []models.Membership
	q := r.db.WithContext(ctx).Order("id")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListIDs returns the ids of memberships in the given statuses.
func (r *Registry) ListIDs(ctx context.Context, statuses ...models.MembershipStatus) ([]uint, error) {
	var ids []uint
	q := r.db.WithContext(ctx).Model(&models.Membership{}).Order("id")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Pluck("id", &ids).Error
	return ids, err
}

// CountByStatus returns the number of memberships per status.
func (r *Registry) CountByStatus(ctx context.Context) (map[models.MembershipStatus]int64, error) {
	type row struct {
		Status models.MembershipStatus
		Count  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.Membership{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.MembershipStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// CompareAndSetStatus moves a membership from one status to another only if
// it is still in from. It returns the number of rows changed (0 or 1).
func (r *Registry) CompareAndSetStatus(ctx context.Context, id uint, from, to models.MembershipStatus) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return tx.RowsAffected, tx.Error
}

// Delete removes a membership together with its payments.
func (r *Registry) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var paymentIDs []uint
		if err := tx.Model(&models.Payment{}).Where("membership_id = ?", id).Pluck("id", &paymentIDs).Error; err != nil {
			return err
		}
		if len(paymentIDs) > 0 {
			if err := tx.Where("payment_id IN ?", paymentIDs).Delete(&models.PretixPayment{}).Error; err != nil {
				return err
			}
			if err := tx.Where("payment_id IN ?", paymentIDs).Delete(&models.StripeSubscriptionPayment{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", paymentIDs).Delete(&models.Payment{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Membership{}, id).Error
	})
}
