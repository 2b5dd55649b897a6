package models

import "time"

// Payment providers that can grant a membership.
const (
	PaymentProviderPretix = "pretix"
	PaymentProviderStripe = "stripe"
)

// PaymentStatus tracks whether a payment still grants coverage.
type PaymentStatus string

const (
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusCanceled PaymentStatus = "canceled"
)

// Payment is one admitted payment for a membership. DedupeKey is derived from
// the provider provenance and is unique across all providers.
type Payment struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	MembershipID uint          `gorm:"not null;index" json:"membership_id"`
	Provider     string        `gorm:"type:varchar(20);not null;index" json:"provider"`
	DedupeKey    string        `gorm:"type:varchar(191);not null;uniqueIndex:ux_payments_dedupe_key" json:"dedupe_key"`
	Total        int64         `gorm:"not null;default:0" json:"total"`
	Status       PaymentStatus `gorm:"type:varchar(16);not null;default:'paid';index" json:"status"`
	PaymentDate  time.Time     `gorm:"not null" json:"payment_date"`
	PeriodStart  time.Time     `gorm:"not null" json:"period_start"`
	PeriodEnd    time.Time     `gorm:"not null" json:"period_end"`

	PretixPayment             *PretixPayment             `gorm:"foreignKey:PaymentID" json:"pretix_payment,omitempty"`
	StripeSubscriptionPayment *StripeSubscriptionPayment `gorm:"foreignKey:PaymentID" json:"stripe_subscription_payment,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPaid reports whether the payment currently grants coverage.
func (p *Payment) IsPaid() bool {
	return p.Status == PaymentStatusPaid
}

// PretixPayment is the provenance of a payment admitted from a pretix order.
type PretixPayment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PaymentID uint      `gorm:"not null;uniqueIndex" json:"payment_id"`
	Organizer string    `gorm:"type:varchar(100);not null;index:ux_pretix_payments_order,unique,priority:1" json:"organizer"`
	Event     string    `gorm:"type:varchar(100);not null;index:ux_pretix_payments_order,unique,priority:2" json:"event"`
	OrderCode string    `gorm:"type:varchar(32);not null;index:ux_pretix_payments_order,unique,priority:3" json:"order_code"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// StripeSubscriptionPayment is the provenance of a payment admitted from a
// paid Stripe subscription invoice.
type StripeSubscriptionPayment struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	PaymentID            uint      `gorm:"not null;uniqueIndex" json:"payment_id"`
	StripeSubscriptionID string    `gorm:"type:varchar(191);not null;index" json:"stripe_subscription_id"`
	StripeInvoiceID      string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"stripe_invoice_id"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
}
