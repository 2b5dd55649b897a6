package stripe

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/pythonitalia/pycon-association/app/models"
	"github.com/pythonitalia/pycon-association/internal/pkg/association"
)

// CustomerResolver maps Stripe customers to local users.
type CustomerResolver interface {
	UserIDByStripeCustomer(ctx context.Context, customerID string) (uint, error)
}

// InvoicePaidAdapter turns invoice.paid events into membership claims. The
// invoice payload is self-contained, no Stripe API call is made.
type InvoicePaidAdapter struct {
	customers CustomerResolver
}

func NewInvoicePaidAdapter(customers CustomerResolver) *InvoicePaidAdapter {
	return &InvoicePaidAdapter{customers: customers}
}

// BuildClaim implements association.ClaimBuilder.
func (a *InvoicePaidAdapter) BuildClaim(ctx context.Context, payload []byte) (*association.Claim, error) {
	ev, err := ParseEvent(payload)
	if err != nil {
		return nil, err
	}
	inv, err := DecodeInvoicePaid(ev)
	if err != nil {
		return nil, err
	}
	return a.ClaimForInvoice(ctx, inv)
}

func (a *InvoicePaidAdapter) ClaimForInvoice(ctx context.Context, inv *InvoicePaidEvent) (*association.Claim, error) {
	if inv.SubscriptionID == "" {
		return nil, fmt.Errorf("%w: invoice %s is not for a subscription", association.ErrIneligible, inv.InvoiceID)
	}

	userID, err := a.customers.UserIDByStripeCustomer(ctx, inv.CustomerID)
	if err != nil {
		return nil, err
	}

	if inv.Status != InvoiceStatusPaid {
		return nil, fmt.Errorf("%w: invoice %s has status %q", association.ErrInvoiceNotPaid, inv.InvoiceID, inv.Status)
	}
	if inv.LineCount != 1 {
		return nil, fmt.Errorf("%w: invoice %s has %d lines", association.ErrUnsupportedInvoiceLines, inv.InvoiceID, inv.LineCount)
	}

	log.Infof("[Stripe] Invoice %s of subscription %s eligible for user %d", inv.InvoiceID, inv.SubscriptionID, userID)
	return &association.Claim{
		Provider:    models.PaymentProviderStripe,
		DedupeKey:   association.StripeDedupeKey(inv.InvoiceID),
		UserID:      userID,
		Amount:      inv.Total,
		Total:       inv.Total,
		PaymentDate: inv.PaidAt,
		PeriodStart: inv.PeriodStart,
		PeriodEnd:   inv.PeriodEnd,
		Stripe: &association.StripeProvenance{
			SubscriptionID: inv.SubscriptionID,
			InvoiceID:      inv.InvoiceID,
		},
	}, nil
}
