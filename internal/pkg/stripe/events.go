package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	EventInvoicePaid             = "invoice.paid"
	EventCheckoutSessionComplete = "checkout.session.completed"

	InvoiceStatusPaid = "paid"
)

// Event is the envelope of every Stripe webhook.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes the webhook envelope.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}
	ev.ID = strings.TrimSpace(ev.ID)
	ev.Type = strings.TrimSpace(ev.Type)
	if ev.Type == "" {
		return nil, errors.New("stripe event has no type")
	}
	if len(ev.Data.Object) == 0 {
		return nil, fmt.Errorf("stripe event %s has no data.object", ev.ID)
	}
	return &ev, nil
}

// InvoicePaidEvent is the canonical invoice-paid event. Amounts are in the
// smallest currency unit, as Stripe sends them.
type InvoicePaidEvent struct {
	EventID        string
	CustomerID     string
	SubscriptionID string
	InvoiceID      string
	Status         string
	Total          int64
	PaidAt         time.Time
	PeriodStart    time.Time
	PeriodEnd      time.Time
	LineCount      int
}

type rawInvoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Status       string `json:"status"`
	Total        int64  `json:"total"`
	Created      int64  `json:"created"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	StatusTransitions struct {
		PaidAt *int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

// DecodeInvoicePaid extracts the invoice-paid event from an envelope. The
// billing period is the first line's period.
func DecodeInvoicePaid(ev *Event) (*InvoicePaidEvent, error) {
	var inv rawInvoice
	if err := json.Unmarshal(ev.Data.Object, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice of event %s: %w", ev.ID, err)
	}
	if strings.TrimSpace(inv.ID) == "" {
		return nil, fmt.Errorf("event %s: invoice has no id", ev.ID)
	}

	out := &InvoicePaidEvent{
		EventID:        ev.ID,
		CustomerID:     strings.TrimSpace(inv.Customer),
		SubscriptionID: strings.TrimSpace(inv.Subscription),
		InvoiceID:      strings.TrimSpace(inv.ID),
		Status:         strings.TrimSpace(inv.Status),
		Total:          inv.Total,
		LineCount:      len(inv.Lines.Data),
	}
	if out.SubscriptionID == "" && inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		out.SubscriptionID = strings.TrimSpace(inv.Parent.SubscriptionDetails.Subscription)
	}
	if inv.StatusTransitions.PaidAt != nil && *inv.StatusTransitions.PaidAt > 0 {
		out.PaidAt = unix(*inv.StatusTransitions.PaidAt)
	} else if inv.Created > 0 {
		out.PaidAt = unix(inv.Created)
	}
	if len(inv.Lines.Data) > 0 {
		out.PeriodStart = unix(inv.Lines.Data[0].Period.Start)
		out.PeriodEnd = unix(inv.Lines.Data[0].Period.End)
	}
	return out, nil
}

// CheckoutSession is the subset of a completed checkout session used to link
// a Stripe customer to a local user.
type CheckoutSession struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	ClientReferenceID string `json:"client_reference_id"`
	Mode              string `json:"mode"`
}

func DecodeCheckoutSession(ev *Event) (*CheckoutSession, error) {
	var s CheckoutSession
	if err := json.Unmarshal(ev.Data.Object, &s); err != nil {
		return nil, fmt.Errorf("decode checkout session of event %s: %w", ev.ID, err)
	}
	s.Customer = strings.TrimSpace(s.Customer)
	s.ClientReferenceID = strings.TrimSpace(s.ClientReferenceID)
	return &s, nil
}

func unix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
