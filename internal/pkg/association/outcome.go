package association

import (
	"github.com/pythonitalia/pycon-association/app/models"
)

// OutcomeKind tags the result of handling one provider event.
type OutcomeKind string

const (
	OutcomeAdmitted OutcomeKind = "admitted"
	OutcomeSkipped  OutcomeKind = "skipped"
	OutcomeRejected OutcomeKind = "rejected"
)

// Outcome is the explicit result of handling an event. Infrastructure and
// transport failures are not outcomes; they are returned as errors.
type Outcome struct {
	Kind OutcomeKind
	// Payment is set whenever a payment row was written, including the
	// rejection of an already active member.
	Payment *models.Payment
	// Status is the membership status after handling, when known.
	Status models.MembershipStatus
	// Reason explains a skip, or qualifies a rejection.
	Reason string
	// Err is the policy violation behind a rejection.
	Err error
}

func Admitted(p *models.Payment, status models.MembershipStatus) Outcome {
	return Outcome{Kind: OutcomeAdmitted, Payment: p, Status: status}
}

func Skipped(reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason}
}

func Rejected(err error, p *models.Payment) Outcome {
	return Outcome{Kind: OutcomeRejected, Err: err, Payment: p}
}

const (
	// ReasonDuplicate is the skip reason for an already admitted dedupe key.
	ReasonDuplicate = "duplicate"
	// ReasonSubscriptionRenewal qualifies an already-a-member rejection caused
	// by the next invoice of a subscription that was admitted before.
	ReasonSubscriptionRenewal = "subscription renewal"
)

func (o Outcome) IsAdmitted() bool { return o.Kind == OutcomeAdmitted }
func (o Outcome) IsSkipped() bool  { return o.Kind == OutcomeSkipped }
func (o Outcome) IsRejected() bool { return o.Kind == OutcomeRejected }

// IsDuplicate reports whether the event had already been admitted.
func (o Outcome) IsDuplicate() bool {
	return o.Kind == OutcomeSkipped && o.Reason == ReasonDuplicate
}

// IsRenewal reports whether a rejection is an expected subscription renewal.
func (o Outcome) IsRenewal() bool {
	return o.Kind == OutcomeRejected && o.Reason == ReasonSubscriptionRenewal
}

// Detail returns the skip reason or the rejection error text.
func (o Outcome) Detail() string {
	switch o.Kind {
	case OutcomeSkipped:
		return o.Reason
	case OutcomeRejected:
		if o.Err != nil {
			return o.Err.Error()
		}
	}
	return ""
}
