package association

import (
	"context"

	"github.com/pythonitalia/pycon-association/app/models"
	"gorm.io/gorm"
)

// Ledger stores payments. The unique index on payments.dedupe_key is the
// durable idempotency guarantee; Exists is only the fast path.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a payment ledger backed by GORM.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx returns a ledger bound to tx.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// Exists reports whether a payment with dedupeKey was already admitted.
func (l *Ledger) Exists(ctx context.Context, dedupeKey string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&models.Payment{}).
		Where("dedupe_key = ?", dedupeKey).
		Count(&count).Error
	return count > 0, err
}

// Get loads a payment by id.
func (l *Ledger) Get(ctx context.Context, id uint) (*models.Payment, error) {
	var p models.Payment
	if err := l.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// HasSubscriptionPayment reports whether an invoice of subscriptionID was
// already admitted.
func (l *Ledger) HasSubscriptionPayment(ctx context.Context, subscriptionID string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&models.StripeSubscriptionPayment{}).
		Where("stripe_subscription_id = ?", subscriptionID).
		Count(&count).Error
	return count > 0, err
}

// GetByDedupeKey loads a payment with its provenance.
func (l *Ledger) GetByDedupeKey(ctx context.Context, dedupeKey string) (*models.Payment, error) {
	var p models.Payment
	err := l.db.WithContext(ctx).
		Preload("PretixPayment").
		Preload("StripeSubscriptionPayment").
		Where("dedupe_key = ?", dedupeKey).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Record inserts the payment and its provenance row. Callers run it inside
// the admission transaction; a duplicate dedupe key surfaces as
// gorm.ErrDuplicatedKey.
func (l *Ledger) Record(ctx context.Context, p *models.Payment) error {
	pretix := p.PretixPayment
	stripe := p.StripeSubscriptionPayment
	p.PretixPayment = nil
	p.StripeSubscriptionPayment = nil

	db := l.db.WithContext(ctx)
	if err := db.Create(p).Error; err != nil {
		return err
	}
	if pretix != nil {
		pretix.PaymentID = p.ID
		if err := db.Create(pretix).Error; err != nil {
			return err
		}
		p.PretixPayment = pretix
	}
	if stripe != nil {
		stripe.PaymentID = p.ID
		if err := db.Create(stripe).Error; err != nil {
			return err
		}
		p.StripeSubscriptionPayment = stripe
	}
	return nil
}

// ListByMembership returns every payment of a membership ordered by period start.
func (l *Ledger) ListByMembership(ctx context.Context, membershipID uint) ([]models.Payment, error) {
	var out []models.Payment
	err := l.db.WithContext(ctx).
		Where("membership_id = ?", membershipID).
		Order("period_start, id").
		Find(&out).Error
	return out, err
}

// ListByMembershipWithProvenance is ListByMembership with provenance rows loaded.
func (l *Ledger) ListByMembershipWithProvenance(ctx context.Context, membershipID uint) ([]models.Payment, error) {
	var out []models.Payment
	err := l.db.WithContext(ctx).
		Preload("PretixPayment").
		Preload("StripeSubscriptionPayment").
		Where("membership_id = ?", membershipID).
		Order("period_start, id").
		Find(&out).Error
	return out, err
}

// Cancel flips a payment to CANCELED. Coverage drops on the next activator run.
func (l *Ledger) Cancel(ctx context.Context, paymentID uint) error {
	return l.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Update("status", models.PaymentStatusCanceled).Error
}
