package association

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/pythonitalia/pycon-association/app/models"
	"gorm.io/gorm"
)

// Admitter turns validated claims into payments, at most once per dedupe key.
type Admitter struct {
	db        *gorm.DB
	registry  *Registry
	ledger    *Ledger
	activator *Activator
}

// NewAdmitter creates an admitter that activates memberships through activator.
func NewAdmitter(db *gorm.DB, activator *Activator) *Admitter {
	return &Admitter{
		db:        db,
		registry:  NewRegistry(db),
		ledger:    NewLedger(db),
		activator: activator,
	}
}

// Admit persists the claim as a PAID payment and re-evaluates the membership.
//
// An already admitted dedupe key is a Skipped outcome, never an error. A
// claim for a user whose membership was already ACTIVE is still stored, then
// reported as Rejected with ErrUserIsAlreadyAMember; the next invoice of an
// already admitted subscription carries ReasonSubscriptionRenewal. A failing
// activation after the payment was stored is logged only; the reconciliation
// job repairs it.
func (a *Admitter) Admit(ctx context.Context, claim Claim) (Outcome, error) {
	if err := claim.Validate(); err != nil {
		return Outcome{}, err
	}

	exists, err := a.ledger.Exists(ctx, claim.DedupeKey)
	if err != nil {
		return Outcome{}, fmt.Errorf("check dedupe key %s: %w", claim.DedupeKey, err)
	}
	if exists {
		log.Infof("[Admitter] Payment %s already admitted, skipping", claim.DedupeKey)
		return Skipped(ReasonDuplicate), nil
	}

	var (
		payment *models.Payment
		prior   models.MembershipStatus
		renewal bool
	)
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, created, err := a.registry.WithTx(tx).GetOrCreate(ctx, claim.UserID)
		if err != nil {
			return fmt.Errorf("membership for user %d: %w", claim.UserID, err)
		}
		if created {
			log.Infof("[Admitter] Created pending membership %d for user %d", m.ID, claim.UserID)
		}
		prior = m.Status
		if prior == models.MembershipStatusActive && claim.Stripe != nil {
			renewal, err = a.ledger.WithTx(tx).HasSubscriptionPayment(ctx, claim.Stripe.SubscriptionID)
			if err != nil {
				return fmt.Errorf("lookup subscription %s: %w", claim.Stripe.SubscriptionID, err)
			}
		}
		payment = claim.toPayment(m.ID)
		return a.ledger.WithTx(tx).Record(ctx, payment)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		log.Infof("[Admitter] Payment %s admitted concurrently, skipping", claim.DedupeKey)
		return Skipped(ReasonDuplicate), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("admit payment %s: %w", claim.DedupeKey, err)
	}
	log.Infof("[Admitter] Stored payment %d (%s) for membership %d", payment.ID, claim.DedupeKey, payment.MembershipID)

	status := prior
	change, err := a.activator.Evaluate(ctx, payment.MembershipID, TriggerAdmission)
	if err != nil {
		log.Errorf("[Admitter] Payment %d stored but activation failed, reconciliation will retry: %v", payment.ID, err)
	} else {
		status = change.To
	}

	if prior == models.MembershipStatusActive {
		out := Rejected(fmt.Errorf("%w: user %d", ErrUserIsAlreadyAMember, claim.UserID), payment)
		out.Status = status
		if renewal {
			log.Infof("[Admitter] Renewal of subscription %s stored as payment %d for active user %d", claim.Stripe.SubscriptionID, payment.ID, claim.UserID)
			out.Reason = ReasonSubscriptionRenewal
			return out, nil
		}
		log.Errorf("[Admitter] User %d is already a member, payment %d stored anyway", claim.UserID, payment.ID)
		return out, nil
	}
	return Admitted(payment, status), nil
}
