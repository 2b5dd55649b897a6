package pretix

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/pythonitalia/pycon-association/app/models"
	"github.com/pythonitalia/pycon-association/internal/pkg/association"
	"github.com/pythonitalia/pycon-association/internal/pkg/env"
)

const (
	defaultAssociationCategory = "Association"
	defaultDurationMonths      = 12
)

// API is the part of the pretix API the adapter reads.
type API interface {
	GetOrder(ctx context.Context, organizer, event, code string) (*Order, error)
	ListCategories(ctx context.Context, organizer, event string) ([]Category, error)
	ListItems(ctx context.Context, organizer, event string, categoryID int64) ([]Item, error)
}

// UserResolver resolves the paying user of an order.
type UserResolver interface {
	UserIDByEmail(ctx context.Context, email string) (uint, error)
}

// OrderPaidAdapter turns order-paid webhooks into membership claims.
type OrderPaidAdapter struct {
	api            API
	users          UserResolver
	category       string
	durationMonths int
}

func NewOrderPaidAdapter(api API, users UserResolver, category string, durationMonths int) *OrderPaidAdapter {
	if strings.TrimSpace(category) == "" {
		category = defaultAssociationCategory
	}
	if durationMonths <= 0 {
		durationMonths = defaultDurationMonths
	}
	return &OrderPaidAdapter{
		api:            api,
		users:          users,
		category:       strings.TrimSpace(category),
		durationMonths: durationMonths,
	}
}

func NewOrderPaidAdapterFromEnv(api API, users UserResolver) *OrderPaidAdapter {
	return NewOrderPaidAdapter(api, users,
		env.GetEnv("PRETIX_ASSOCIATION_CATEGORY", defaultAssociationCategory),
		env.GetEnvInt("MEMBERSHIP_DURATION_MONTHS", defaultDurationMonths),
	)
}

// BuildClaim implements association.ClaimBuilder.
func (a *OrderPaidAdapter) BuildClaim(ctx context.Context, payload []byte) (*association.Claim, error) {
	ev, err := ParseWebhook(payload)
	if err != nil {
		return nil, err
	}
	return a.ClaimForOrder(ctx, ev)
}

// ClaimForOrder fetches the order and validates it. Nothing is persisted here.
func (a *OrderPaidAdapter) ClaimForOrder(ctx context.Context, ev OrderPaidEvent) (*association.Claim, error) {
	order, err := a.api.GetOrder(ctx, ev.Organizer, ev.Event, ev.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch order %s: %w", association.ErrUpstream, ev.Code, err)
	}
	if !order.IsPaid() {
		return nil, fmt.Errorf("%w: order %s has status %q", association.ErrIneligible, order.Code, order.Status)
	}

	itemIDs, err := a.associationItems(ctx, ev.Organizer, ev.Event)
	if err != nil {
		return nil, err
	}

	var eligible []OrderPosition
	for _, pos := range order.Positions {
		if pos.Canceled {
			continue
		}
		if _, ok := itemIDs[pos.Item]; ok {
			eligible = append(eligible, pos)
		}
	}
	switch {
	case len(eligible) == 0:
		return nil, fmt.Errorf("%w: order %s has no %s items", association.ErrIneligible, order.Code, a.category)
	case len(eligible) > 1:
		return nil, fmt.Errorf("%w: order %s has %d membership positions",
			association.ErrUnsupportedMultipleMembershipInOneOrder, order.Code, len(eligible))
	}
	position := eligible[0]

	userID, err := a.users.UserIDByEmail(ctx, order.Email)
	if err != nil {
		return nil, err
	}

	paid := EffectivePaid(order)
	if paid.LessThan(position.Price) {
		return nil, fmt.Errorf("%w: order %s paid %s, membership costs %s",
			association.ErrNotEnoughPaid, order.Code, paid.StringFixed(2), position.Price.StringFixed(2))
	}

	paymentDate, ok := FirstConfirmedPaymentDate(order)
	if !ok {
		return nil, fmt.Errorf("%w: order %s", association.ErrNoConfirmedPaymentFound, order.Code)
	}
	paymentDate = paymentDate.UTC()

	log.Infof("[Pretix] Order %s/%s/%s eligible for user %d", ev.Organizer, ev.Event, order.Code, userID)
	return &association.Claim{
		Provider:    models.PaymentProviderPretix,
		DedupeKey:   association.PretixDedupeKey(ev.Organizer, ev.Event, order.Code),
		UserID:      userID,
		Amount:      ToMinorUnits(position.Price),
		Total:       ToMinorUnits(paid),
		PaymentDate: paymentDate,
		PeriodStart: paymentDate,
		PeriodEnd:   paymentDate.AddDate(0, a.durationMonths, 0),
		Pretix: &association.PretixProvenance{
			Organizer: ev.Organizer,
			Event:     ev.Event,
			OrderCode: order.Code,
		},
	}, nil
}

// associationItems returns the ids of items in the membership category,
// matched on the category's internal name.
func (a *OrderPaidAdapter) associationItems(ctx context.Context, organizer, event string) (map[int64]struct{}, error) {
	categories, err := a.api.ListCategories(ctx, organizer, event)
	if err != nil {
		return nil, fmt.Errorf("%w: list categories of %s/%s: %w", association.ErrUpstream, organizer, event, err)
	}
	var category *Category
	for i := range categories {
		if strings.EqualFold(strings.TrimSpace(categories[i].InternalName), a.category) {
			category = &categories[i]
			break
		}
	}
	if category == nil {
		return nil, fmt.Errorf("%w: event %s/%s has no %s category", association.ErrIneligible, organizer, event, a.category)
	}

	items, err := a.api.ListItems(ctx, organizer, event, category.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: list items of category %d: %w", association.ErrUpstream, category.ID, err)
	}
	ids := make(map[int64]struct{}, len(items))
	for _, it := range items {
		ids[it.ID] = struct{}{}
	}
	return ids, nil
}

// EffectivePaid is the sum of confirmed payments minus completed refunds.
func EffectivePaid(o *Order) decimal.Decimal {
	total := decimal.Zero
	for _, p := range o.Payments {
		if p.State == PaymentStateConfirmed {
			total = total.Add(p.Amount)
		}
	}
	for _, r := range o.Refunds {
		if r.State == RefundStateDone {
			total = total.Sub(r.Amount)
		}
	}
	return total
}

// FirstConfirmedPaymentDate returns the date of the first confirmed payment
// that carries one.
func FirstConfirmedPaymentDate(o *Order) (t time.Time, ok bool) {
	for _, p := range o.Payments {
		if p.State == PaymentStateConfirmed && p.PaymentDate != nil && !p.PaymentDate.IsZero() {
			return *p.PaymentDate, true
		}
	}
	return time.Time{}, false
}
