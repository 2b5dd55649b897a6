package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/pythonitalia/pycon-association/internal/pkg/association"
)

// ReconcileTrigger runs one reconciliation pass on demand.
type ReconcileTrigger interface {
	RunOnce(ctx context.Context) (association.RunResult, bool, error)
}

// RunReporter reads recorded reconciliation runs.
type RunReporter interface {
	LastReconcileRun(ctx context.Context) (*association.RunResult, error)
	Totals(ctx context.Context) (map[string]int64, error)
}

// AdminController serves the internal membership and reconciliation endpoints.
type AdminController struct {
	registry  *association.Registry
	ledger    *association.Ledger
	activator *association.Activator
	trigger   ReconcileTrigger
	runs      RunReporter
	now       func() time.Time
}

// NewAdminController creates the controller. runs may be nil when Redis is
// not available.
func NewAdminController(db *gorm.DB, trigger ReconcileTrigger, runs RunReporter) *AdminController {
	return &AdminController{
		registry:  association.NewRegistry(db),
		ledger:    association.NewLedger(db),
		activator: association.NewActivator(db, nil),
		trigger:   trigger,
		runs:      runs,
		now:       time.Now,
	}
}

// HandleMembershipShow handles GET /internal/memberships/:userID.
func (a *AdminController) HandleMembershipShow(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("userID"), 10, 64)
	if err != nil || userID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id"})
	}

	ctx := c.UserContext()
	m, err := a.registry.GetByUserID(ctx, uint(userID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "membership_not_found"})
	}
	if err != nil {
		log.Errorf("[Admin] Could not load membership of user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "membership_lookup_failed"})
	}

	payments, err := a.ledger.ListByMembershipWithProvenance(ctx, m.ID)
	if err != nil {
		log.Errorf("[Admin] Could not load payments of membership %d: %v", m.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "payment_lookup_failed"})
	}

	now := a.now().UTC()
	res := fiber.Map{
		"membership": m,
		"payments":   payments,
		"covered":    association.IsCovered(payments, now),
	}
	if until, ok := association.CoveredUntil(payments, now); ok {
		res["covered_until"] = until
	}
	return c.JSON(res)
}

// HandlePaymentCancel handles POST /internal/payments/:paymentID/cancel. The
// payment stops granting coverage and its membership is re-evaluated at once.
func (a *AdminController) HandlePaymentCancel(c *fiber.Ctx) error {
	paymentID, err := strconv.ParseUint(c.Params("paymentID"), 10, 64)
	if err != nil || paymentID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payment_id"})
	}

	ctx := c.UserContext()
	p, err := a.ledger.Get(ctx, uint(paymentID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "payment_not_found"})
	}
	if err != nil {
		log.Errorf("[Admin] Could not load payment %d: %v", paymentID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "payment_lookup_failed"})
	}

	if p.IsPaid() {
		if err := a.ledger.Cancel(ctx, p.ID); err != nil {
			log.Errorf("[Admin] Could not cancel payment %d: %v", p.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "payment_cancel_failed"})
		}
		log.Infof("[Admin] Canceled payment %d of membership %d", p.ID, p.MembershipID)
	}

	change, err := a.activator.Evaluate(ctx, p.MembershipID, association.TriggerReconciliation)
	if err != nil {
		// The payment stays canceled; the next reconciliation run applies the status.
		log.Errorf("[Admin] Payment %d canceled but membership %d was not re-evaluated: %v", p.ID, p.MembershipID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "membership_evaluation_failed"})
	}
	return c.JSON(fiber.Map{
		"ok":            true,
		"payment_id":    p.ID,
		"membership_id": p.MembershipID,
		"covered":       change.Covered,
		"status":        change.To,
	})
}

// HandleReconcileRun handles POST /internal/reconciliation/run.
func (a *AdminController) HandleReconcileRun(c *fiber.Ctx) error {
	res, ran, err := a.trigger.RunOnce(c.UserContext())
	if err != nil {
		log.Errorf("[Admin] Manual reconciliation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reconciliation_failed", "result": res})
	}
	if !ran {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "reconciliation_in_progress"})
	}
	return c.JSON(fiber.Map{"ok": true, "result": res})
}

// HandleReconcileStatus handles GET /internal/reconciliation.
func (a *AdminController) HandleReconcileStatus(c *fiber.Ctx) error {
	ctx := c.UserContext()
	counts, err := a.registry.CountByStatus(ctx)
	if err != nil {
		log.Errorf("[Admin] Could not count memberships: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "membership_count_failed"})
	}

	res := fiber.Map{"memberships": counts}
	if a.runs != nil {
		if last, err := a.runs.LastReconcileRun(ctx); err != nil {
			log.Warnf("[Admin] Could not read last reconciliation run: %v", err)
		} else if last != nil {
			res["last_run"] = last
		}
		if totals, err := a.runs.Totals(ctx); err != nil {
			log.Warnf("[Admin] Could not read reconciliation totals: %v", err)
		} else {
			res["totals"] = totals
		}
	}
	return c.JSON(res)
}
