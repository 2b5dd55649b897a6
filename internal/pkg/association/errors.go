package association

import "errors"

// ErrIneligible marks an event that carries nothing to admit (unpaid order,
// no membership item). Callers turn it into a Skipped outcome.
var ErrIneligible = errors.New("event not eligible for membership")

// ErrUpstream marks a failed call to a provider API. The delivery should be
// retried by the provider.
var ErrUpstream = errors.New("provider request failed")

// Policy violations. Each is wrapped with detail by the adapter that raises it.
var (
	ErrUnsupportedMultipleMembershipInOneOrder = errors.New("unsupported multiple membership in one order")
	ErrNotEnoughPaid                           = errors.New("not enough paid")
	ErrNoConfirmedPaymentFound                 = errors.New("no confirmed payment found")
	ErrNoUserFoundWithEmail                    = errors.New("no user found with email")
	ErrNoCustomerFoundForEvent                 = errors.New("no customer found for event")
	ErrUserIsAlreadyAMember                    = errors.New("user is already a member")
	ErrInvoiceNotPaid                          = errors.New("invoice is not paid")
	ErrUnsupportedInvoiceLines                 = errors.New("unsupported number of invoice lines")
)

var policyViolations = []error{
	ErrUnsupportedMultipleMembershipInOneOrder,
	ErrNotEnoughPaid,
	ErrNoConfirmedPaymentFound,
	ErrNoUserFoundWithEmail,
	ErrNoCustomerFoundForEvent,
	ErrUserIsAlreadyAMember,
	ErrInvoiceNotPaid,
	ErrUnsupportedInvoiceLines,
}

// IsPolicyViolation reports whether err wraps one of the policy sentinel errors.
func IsPolicyViolation(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range policyViolations {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Identity violations name a payer that is not known yet. The user may
// register, or the Stripe customer link may arrive, after the payment event,
// so a redelivery can succeed.
var identityViolations = []error{
	ErrNoUserFoundWithEmail,
	ErrNoCustomerFoundForEvent,
}

// IsUnresolvedIdentity reports whether err is a policy violation that a later
// redelivery of the same event can resolve.
func IsUnresolvedIdentity(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range identityViolations {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
