package pretix

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses as returned by the pretix REST API.
const (
	OrderStatusPending  = "n"
	OrderStatusPaid     = "p"
	OrderStatusExpired  = "e"
	OrderStatusCanceled = "c"
)

const (
	PaymentStateConfirmed = "confirmed"
	RefundStateDone       = "done"
)

// ActionOrderPaid is the webhook action sent when an order is marked as paid.
const ActionOrderPaid = "pretix.event.order.paid"

// Order is the subset of a pretix order used to build membership claims.
type Order struct {
	Code      string          `json:"code"`
	Status    string          `json:"status"`
	Email     string          `json:"email"`
	Total     decimal.Decimal `json:"total"`
	Positions []OrderPosition `json:"positions"`
	Payments  []OrderPayment  `json:"payments"`
	Refunds   []OrderRefund   `json:"refunds"`
}

func (o *Order) IsPaid() bool {
	return o.Status == OrderStatusPaid
}

type OrderPosition struct {
	ID       int64           `json:"id"`
	Item     int64           `json:"item"`
	Price    decimal.Decimal `json:"price"`
	Canceled bool            `json:"canceled"`
}

type OrderPayment struct {
	LocalID     int64           `json:"local_id"`
	State       string          `json:"state"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate *time.Time      `json:"payment_date"`
}

type OrderRefund struct {
	LocalID int64           `json:"local_id"`
	State   string          `json:"state"`
	Amount  decimal.Decimal `json:"amount"`
}

// Category is an item category. InternalName is the stable identifier set by
// organizers; Name is the translated display label.
type Category struct {
	ID           int64             `json:"id"`
	Name         map[string]string `json:"name"`
	InternalName string            `json:"internal_name"`
}

type Item struct {
	ID           int64             `json:"id"`
	Name         map[string]string `json:"name"`
	Category     *int64            `json:"category"`
	DefaultPrice decimal.Decimal   `json:"default_price"`
}

type page[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

// OrderPaidEvent is the canonical order-paid event.
type OrderPaidEvent struct {
	NotificationID int64  `json:"notification_id"`
	Organizer      string `json:"organizer"`
	Event          string `json:"event"`
	Code           string `json:"code"`
	Action         string `json:"action"`
}

// DeliveryID identifies one webhook delivery of the event.
func (e OrderPaidEvent) DeliveryID() string {
	if e.NotificationID > 0 {
		return fmt.Sprintf("%d", e.NotificationID)
	}
	return strings.Join([]string{e.Organizer, e.Event, e.Code, e.Action}, ":")
}

// ParseWebhook decodes a pretix webhook body.
func ParseWebhook(payload []byte) (OrderPaidEvent, error) {
	var ev OrderPaidEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return OrderPaidEvent{}, fmt.Errorf("decode pretix webhook: %w", err)
	}
	ev.Organizer = strings.TrimSpace(ev.Organizer)
	ev.Event = strings.TrimSpace(ev.Event)
	ev.Code = strings.TrimSpace(ev.Code)
	ev.Action = strings.TrimSpace(ev.Action)
	if ev.Organizer == "" || ev.Event == "" || ev.Code == "" {
		return OrderPaidEvent{}, errors.New("pretix webhook is missing organizer, event or code")
	}
	return ev, nil
}

// ToMinorUnits converts a decimal currency amount to cents.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}
