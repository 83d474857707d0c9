package enrollment

import (
	"fmt"
	"time"

	"github.com/classnet/backend/core"
)

// Status is the closed set of enrollment lifecycle states. Every state change
// goes through ValidateTransition; there are no ad-hoc states.
type Status string

const (
	StatusTrial               Status = "trial"
	StatusTrialProofSubmitted Status = "trial_proof_submitted"
	StatusTrialProofRejected  Status = "trial_proof_rejected"
	StatusPendingPayment      Status = "pending_payment"
	StatusProofSubmitted      Status = "proof_submitted"
	StatusProofRejected       Status = "proof_rejected"
	StatusEnrolled            Status = "enrolled"
	StatusCancelled           Status = "cancelled"
	StatusSuspended           Status = "suspended_due_to_non_payment"
)

var (
	// CapacityStatuses are the states that count against Class.MaxStudents.
	// Every non-cancelled enrollment holds a seat: capacity is settled when the
	// enrollment is created, so later transitions (approval included) can never
	// overshoot it.
	CapacityStatuses = []Status{
		StatusTrial, StatusTrialProofSubmitted, StatusTrialProofRejected,
		StatusPendingPayment, StatusProofSubmitted, StatusProofRejected,
		StatusEnrolled, StatusSuspended,
	}

	transitions = map[Status][]Status{
		StatusTrial:               {StatusTrialProofSubmitted, StatusPendingPayment, StatusCancelled},
		StatusTrialProofSubmitted: {StatusEnrolled, StatusTrialProofRejected},
		StatusTrialProofRejected:  {StatusTrialProofSubmitted, StatusCancelled},
		StatusPendingPayment:      {StatusProofSubmitted, StatusCancelled},
		StatusProofSubmitted:      {StatusEnrolled, StatusProofRejected},
		StatusProofRejected:       {StatusProofSubmitted, StatusCancelled},
		StatusEnrolled:            {StatusSuspended, StatusCancelled},
		StatusSuspended:           {StatusEnrolled, StatusCancelled},
		StatusCancelled:           nil,
	}
)

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// isTrial reports whether the state belongs to the trial flavor of the lifecycle.
func (s Status) isTrial() bool {
	switch s {
	case StatusTrial, StatusTrialProofSubmitted, StatusTrialProofRejected:
		return true
	}
	return false
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a conflict error when `from` does not allow `to`.
func ValidateTransition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return core.NewConflictError(fmt.Errorf("cannot transition enrollment from %q to %q", from, to))
	}
	return nil
}

// PaymentStatus is the state of one billing cycle's payment record.
type PaymentStatus string

const (
	PaymentPaid     PaymentStatus = "paid"
	PaymentPending  PaymentStatus = "pending"
	PaymentOverdue  PaymentStatus = "overdue"
	PaymentRejected PaymentStatus = "rejected"
)

// Payment is one billing cycle's record, embedded in Enrollment.PaymentsMade.
// The sequence is append-only.
type Payment struct {
	Amount      float64       `json:"amount"`
	Date        time.Time     `json:"date"`
	Status      PaymentStatus `json:"status"`
	ProofURL    string        `json:"proof_url,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
}

// Enrollment represents one student's relationship to one class.
// The (StudentID, ClassID) pair is unique. Enrollments are never physically
// deleted; they only move through lifecycle states.
type Enrollment struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`
	ClassID   string `json:"class_id"`
	Status    Status `json:"status"`

	// billing
	PaymentAmount      float64    `json:"payment_amount"`
	PriceAtEnrollment  float64    `json:"price_at_enrollment"`
	BillingStartDate   *time.Time `json:"billing_start_date,omitempty"`
	NextPaymentDueDate *time.Time `json:"next_payment_due_date,omitempty"`
	LastPaymentDate    *time.Time `json:"last_payment_date,omitempty"`
	PaymentsMade       []Payment  `json:"payments_made"`
	ProofURL           string     `json:"proof_url,omitempty"` // latest submitted proof

	// trial; set only when joining a class already in progress
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// pendingPaymentIdx returns the index of the most recent pending payment, or -1.
func (e *Enrollment) pendingPaymentIdx() int {
	for i := len(e.PaymentsMade) - 1; i >= 0; i-- {
		if e.PaymentsMade[i].Status == PaymentPending {
			return i
		}
	}
	return -1
}

// hasPaymentForCycle reports whether a payment record already exists for the
// cycle anchored at `due` (overdue marking must not double-append).
func (e *Enrollment) hasPaymentForCycle(due time.Time) bool {
	for _, p := range e.PaymentsMade {
		if p.Status != PaymentPaid && p.Date.Equal(due) {
			return true
		}
		if p.Status == PaymentPending {
			return true
		}
	}
	return false
}

// QueryFilter narrows admin enrollment listings. Fields combine with AND.
type QueryFilter struct {
	StudentID string   `query:"student_id"`
	ClassID   string   `query:"class_id"`
	Statuses  []Status `query:"status"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.StudentID == "" && qf.ClassID == "" && qf.Statuses == nil
}
