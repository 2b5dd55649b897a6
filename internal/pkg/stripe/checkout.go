package stripe

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/pythonitalia/pycon-association/internal/pkg/association"
)

// CustomerLinker stores Stripe customer ids for local users.
type CustomerLinker interface {
	LinkStripeCustomer(ctx context.Context, userID uint, customerID string) error
}

// CheckoutHandler handles checkout.session.completed by linking the session's
// customer to the user in client_reference_id. It never admits a payment;
// the first invoice.paid of the subscription does.
type CheckoutHandler struct {
	linker CustomerLinker
}

func NewCheckoutHandler(linker CustomerLinker) *CheckoutHandler {
	return &CheckoutHandler{linker: linker}
}

func (h *CheckoutHandler) Handle(ctx context.Context, payload []byte) (association.Outcome, error) {
	ev, err := ParseEvent(payload)
	if err != nil {
		return association.Outcome{}, err
	}
	session, err := DecodeCheckoutSession(ev)
	if err != nil {
		return association.Outcome{}, err
	}
	if session.Customer == "" || session.ClientReferenceID == "" {
		return association.Skipped("checkout session without customer or client_reference_id"), nil
	}
	userID, err := strconv.ParseUint(session.ClientReferenceID, 10, 64)
	if err != nil || userID == 0 {
		return association.Skipped(fmt.Sprintf("client_reference_id %q is not a user id", session.ClientReferenceID)), nil
	}

	err = h.linker.LinkStripeCustomer(ctx, uint(userID), session.Customer)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Errorf("[Stripe] Checkout session %s references unknown user %d", session.ID, userID)
		return association.Rejected(err, nil), nil
	}
	if err != nil {
		return association.Outcome{}, fmt.Errorf("link customer %s: %w", session.Customer, err)
	}
	log.Infof("[Stripe] Linked customer %s to user %d", session.Customer, userID)
	return association.Skipped(fmt.Sprintf("customer %s linked to user %d", session.Customer, userID)), nil
}
