package association

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pythonitalia/pycon-association/app/models"
)

// PretixProvenance identifies the pretix order a claim was built from.
type PretixProvenance struct {
	Organizer string `validate:"required"`
	Event     string `validate:"required"`
	OrderCode string `validate:"required"`
}

// StripeProvenance identifies the Stripe invoice a claim was built from.
type StripeProvenance struct {
	SubscriptionID string `validate:"required"`
	InvoiceID      string `validate:"required"`
}

// Claim is a normalized payment event produced by a provider adapter, not yet
// persisted. Money is in integer minor units.
type Claim struct {
	Provider    string    `validate:"required,oneof=pretix stripe"`
	DedupeKey   string    `validate:"required,max=191"`
	UserID      uint      `validate:"required"`
	Amount      int64     `validate:"gte=0"`
	Total       int64     `validate:"gte=0"`
	PaymentDate time.Time `validate:"required"`
	PeriodStart time.Time `validate:"required"`
	PeriodEnd   time.Time `validate:"required,gtefield=PeriodStart"`

	Pretix *PretixProvenance
	Stripe *StripeProvenance
}

var claimValidator = validator.New()

// Validate checks the claim invariants before it reaches the database.
func (c *Claim) Validate() error {
	if err := claimValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid claim %q: %w", c.DedupeKey, err)
	}
	if c.Pretix != nil && c.Stripe != nil {
		return fmt.Errorf("invalid claim %q: more than one provenance", c.DedupeKey)
	}
	if c.Provider == models.PaymentProviderPretix && c.Pretix == nil {
		return fmt.Errorf("invalid claim %q: pretix claim without pretix provenance", c.DedupeKey)
	}
	if c.Provider == models.PaymentProviderStripe && c.Stripe == nil {
		return fmt.Errorf("invalid claim %q: stripe claim without stripe provenance", c.DedupeKey)
	}
	return nil
}

// PretixDedupeKey derives the dedupe key of a pretix order.
func PretixDedupeKey(organizer, event, orderCode string) string {
	return strings.Join([]string{
		models.PaymentProviderPretix,
		strings.TrimSpace(organizer),
		strings.TrimSpace(event),
		strings.TrimSpace(orderCode),
	}, ":")
}

// StripeDedupeKey derives the dedupe key of a Stripe invoice.
func StripeDedupeKey(invoiceID string) string {
	return models.PaymentProviderStripe + ":" + strings.TrimSpace(invoiceID)
}

// toPayment builds the payment row and its provenance child for membershipID.
func (c *Claim) toPayment(membershipID uint) *models.Payment {
	p := &models.Payment{
		MembershipID: membershipID,
		Provider:     c.Provider,
		DedupeKey:    c.DedupeKey,
		Total:        c.Total,
		Status:       models.PaymentStatusPaid,
		PaymentDate:  c.PaymentDate.UTC(),
		PeriodStart:  c.PeriodStart.UTC(),
		PeriodEnd:    c.PeriodEnd.UTC(),
	}
	if c.Pretix != nil {
		p.PretixPayment = &models.PretixPayment{
			Organizer: c.Pretix.Organizer,
			Event:     c.Pretix.Event,
			OrderCode: c.Pretix.OrderCode,
		}
	}
	if c.Stripe != nil {
		p.StripeSubscriptionPayment = &models.StripeSubscriptionPayment{
			StripeSubscriptionID: c.Stripe.SubscriptionID,
			StripeInvoiceID:      c.Stripe.InvoiceID,
		}
	}
	return p
}
