package association

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pythonitalia/pycon-association/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Directory resolves provider identities to local users.
type Directory struct {
	db *gorm.DB
}

// NewDirectory creates a user directory backed by GORM.
func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// UserIDByEmail resolves a user by exact email match.
func (d *Directory) UserIDByEmail(ctx context.Context, email string) (uint, error) {
	e := strings.TrimSpace(email)
	if e == "" {
		return 0, fmt.Errorf("%w: empty email", ErrNoUserFoundWithEmail)
	}
	var u models.User
	err := d.db.WithContext(ctx).Select("id").Where("email = ?", e).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrNoUserFoundWithEmail, e)
	}
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

// UserIDByStripeCustomer resolves the user linked to a Stripe customer.
func (d *Directory) UserIDByStripeCustomer(ctx context.Context, customerID string) (uint, error) {
	id := strings.TrimSpace(customerID)
	var c models.StripeCustomer
	err := d.db.WithContext(ctx).Where("stripe_customer_id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("%w: customer %q", ErrNoCustomerFoundForEvent, id)
	}
	if err != nil {
		return 0, err
	}
	return c.UserID, nil
}

// LinkStripeCustomer stores or updates the customer id of a user.
func (d *Directory) LinkStripeCustomer(ctx context.Context, userID uint, customerID string) error {
	id := strings.TrimSpace(customerID)
	if userID == 0 || id == "" {
		return errors.New("user_id and stripe_customer_id are required")
	}
	var count int64
	if err := d.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("user %d: %w", userID, gorm.ErrRecordNotFound)
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stripe_customer_id", "updated_at"}),
	}).Create(&models.StripeCustomer{UserID: userID, StripeCustomerID: id}).Error
}
