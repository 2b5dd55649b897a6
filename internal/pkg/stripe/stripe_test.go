package stripe

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pythonitalia/pycon-association/internal/pkg/association"
)

const (
	periodStart = int64(1767225600) // 2026-01-01
	periodEnd   = int64(1798761600) // 2027-01-01
)

func invoicePayload(status string, lines int) []byte {
	lineData := ""
	for i := 0; i < lines; i++ {
		if i > 0 {
			lineData += ","
		}
		lineData += fmt.Sprintf(`{"period":{"start":%d,"end":%d}}`, periodStart, periodEnd)
	}
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "invoice.paid",
		"data": {"object": {
			"id": "in_1",
			"customer": "cus_1",
			"subscription": "sub_1",
			"status": %q,
			"total": 1000,
			"status_transitions": {"paid_at": %d},
			"lines": {"data": [%s]}
		}}
	}`, status, periodStart+60, lineData))
}

type stubCustomers map[string]uint

func (s stubCustomers) UserIDByStripeCustomer(_ context.Context, customerID string) (uint, error) {
	if id, ok := s[customerID]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: customer %q", association.ErrNoCustomerFoundForEvent, customerID)
}

func TestInvoicePaidClaim(t *testing.T) {
	a := NewInvoicePaidAdapter(stubCustomers{"cus_1": 7})

	claim, err := a.BuildClaim(context.Background(), invoicePayload("paid", 1))
	require.NoError(t, err)

	assert.Equal(t, "stripe:in_1", claim.DedupeKey)
	assert.Equal(t, uint(7), claim.UserID)
	assert.Equal(t, int64(1000), claim.Total)
	assert.Equal(t, time.Unix(periodStart, 0).UTC(), claim.PeriodStart)
	assert.Equal(t, time.Unix(periodEnd, 0).UTC(), claim.PeriodEnd)
	assert.Equal(t, time.Unix(periodStart+60, 0).UTC(), claim.PaymentDate)
	require.NotNil(t, claim.Stripe)
	assert.Equal(t, "sub_1", claim.Stripe.SubscriptionID)
	assert.NoError(t, claim.Validate())
}

func TestInvoicePaidPolicyViolations(t *testing.T) {
	tests := []struct {
		name      string
		customers stubCustomers
		payload   []byte
		want      error
	}{
		{"unknown customer", stubCustomers{}, invoicePayload("paid", 1), association.ErrNoCustomerFoundForEvent},
		{"not paid", stubCustomers{"cus_1": 7}, invoicePayload("open", 1), association.ErrInvoiceNotPaid},
		{"two lines", stubCustomers{"cus_1": 7}, invoicePayload("paid", 2), association.ErrUnsupportedInvoiceLines},
		{"no lines", stubCustomers{"cus_1": 7}, invoicePayload("paid", 0), association.ErrUnsupportedInvoiceLines},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInvoicePaidAdapter(tt.customers).BuildClaim(context.Background(), tt.payload)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, association.IsPolicyViolation(err))
		})
	}
}

func TestInvoiceWithoutSubscriptionIsIneligible(t *testing.T) {
	payload := []byte(`{"id":"evt_2","type":"invoice.paid","data":{"object":{"id":"in_2","customer":"cus_1","status":"paid","total":500,"lines":{"data":[]}}}}`)

	_, err := NewInvoicePaidAdapter(stubCustomers{"cus_1": 7}).BuildClaim(context.Background(), payload)
	assert.ErrorIs(t, err, association.ErrIneligible)
}

func TestDecodeInvoicePaidParentSubscription(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"evt_3","type":"invoice.paid","data":{"object":{
		"id":"in_3","customer":"cus_1","status":"paid","total":1000,"created":1767225600,
		"parent":{"subscription_details":{"subscription":"sub_9"}},
		"lines":{"data":[{"period":{"start":1767225600,"end":1798761600}}]}}}}`))
	require.NoError(t, err)

	inv, err := DecodeInvoicePaid(ev)
	require.NoError(t, err)
	assert.Equal(t, "sub_9", inv.SubscriptionID)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), inv.PaidAt)
	assert.Equal(t, 1, inv.LineCount)
}

func TestParseEventErrors(t *testing.T) {
	_, err := ParseEvent([]byte(`{`))
	assert.Error(t, err)
	_, err = ParseEvent([]byte(`{"id":"evt_1","data":{"object":{}}}`))
	assert.Error(t, err)
	_, err = ParseEvent([]byte(`{"id":"evt_1","type":"invoice.paid"}`))
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1767225600, 0)
	header := SignatureHeader(payload, "whsec_test", now.Unix())

	assert.NoError(t, VerifySignature(payload, header, "whsec_test", DefaultSignatureTolerance, now.Add(time.Minute)))
	assert.ErrorIs(t, VerifySignature(payload, header, "whsec_other", DefaultSignatureTolerance, now), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature([]byte(`{"id":"evt_2"}`), header, "whsec_test", DefaultSignatureTolerance, now), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(payload, header, "whsec_test", DefaultSignatureTolerance, now.Add(10*time.Minute)), ErrSignatureExpired)
	assert.ErrorIs(t, VerifySignature(payload, "", "whsec_test", DefaultSignatureTolerance, now), ErrNoSignature)
	assert.ErrorIs(t, VerifySignature(payload, "t=abc,v1=00", "whsec_test", DefaultSignatureTolerance, now), ErrInvalidSignature)
	assert.Error(t, VerifySignature(payload, header, "", DefaultSignatureTolerance, now))

	rotated := header + ",v1=" + "00ff"
	assert.NoError(t, VerifySignature(payload, rotated, "whsec_test", DefaultSignatureTolerance, now))
}

type stubLinker struct {
	links map[uint]string
	err   error
}

func (s *stubLinker) LinkStripeCustomer(_ context.Context, userID uint, customerID string) error {
	if s.err != nil {
		return s.err
	}
	s.links[userID] = customerID
	return nil
}

func checkoutPayload(customer, ref string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_c","type":"checkout.session.completed","data":{"object":{"id":"cs_1","customer":%q,"client_reference_id":%q,"mode":"subscription"}}}`, customer, ref))
}

func TestCheckoutHandler(t *testing.T) {
	linker := &stubLinker{links: map[uint]string{}}
	h := NewCheckoutHandler(linker)

	out, err := h.Handle(context.Background(), checkoutPayload("cus_1", "7"))
	require.NoError(t, err)
	assert.True(t, out.IsSkipped())
	assert.Equal(t, "cus_1", linker.links[7])

	out, err = h.Handle(context.Background(), checkoutPayload("cus_2", "not-a-number"))
	require.NoError(t, err)
	assert.True(t, out.IsSkipped())
	assert.NotContains(t, linker.links, uint(0))

	out, err = h.Handle(context.Background(), checkoutPayload("", "7"))
	require.NoError(t, err)
	assert.True(t, out.IsSkipped())

	linker.err = fmt.Errorf("user 9: %w", gorm.ErrRecordNotFound)
	out, err = h.Handle(context.Background(), checkoutPayload("cus_3", "9"))
	require.NoError(t, err)
	assert.True(t, out.IsRejected())
}
