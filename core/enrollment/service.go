package enrollment

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/class"
	"github.com/classnet/backend/core/user"
)

var (
	// errors
	ErrNotFound        = errors.New("enrollment not found")
	ErrAlreadyEnrolled = errors.New("an enrollment already exists for this student and class")
	ErrClassFull       = errors.New("maximum students reached")
	ErrTrialUsed       = errors.New("trial period already used")
	ErrNoOpenPayment   = errors.New("enrollment has no payment awaiting review")

	initialPaymentNote = "initial enrollment payment"
)

type (
	Repository interface {
		// CreateEnrollment inserts enr if and only if no enrollment exists for
		// its (student, class) pair AND the count of seat-holding enrollments
		// (CapacityStatuses) is below maxStudents. Checks and insert are
		// serialized per class; concurrent creations cannot overshoot capacity.
		// Returns ErrAlreadyEnrolled or ErrClassFull.
		CreateEnrollment(enr Enrollment, maxStudents int) (Enrollment, error)
		GetEnrollmentByID(id string) (Enrollment, error)
		GetEnrollmentByStudentAndClass(studentID, classID string) (Enrollment, error)
		QueryEnrollmentsByStudent(studentID string) ([]Enrollment, error)
		// QueryEnrollmentsByClass optionally narrows by status.
		QueryEnrollmentsByClass(classID string, statuses ...Status) ([]Enrollment, error)
		CountClassEnrollments(classID string, statuses ...Status) (int, error)
		UpdateEnrollment(enr Enrollment) (Enrollment, error)
		// UpdateEnrollmentsBilling applies all billing mutations in a single
		// transaction: either every enrollment of the batch is updated or none.
		UpdateEnrollmentsBilling(enrs []Enrollment) error
		FilterEnrollments(filter QueryFilter, pq core.PageQuery, orderings ...core.DBOrdering) ([]Enrollment, int, error)
		QueryExpiredTrials(asOf time.Time) ([]Enrollment, error)
		QueryPastDueEnrollments(asOf time.Time) ([]Enrollment, error)
	}

	// Notifier posts in-app notifications. Sends are fire-and-forget: they
	// never roll back the mutation that triggered them.
	Notifier interface {
		Emit(userIDs []string, title, message, link string)
	}

	Service struct {
		repo     Repository
		classSvc *class.Service
		usrSvc   *user.Service
		storage  core.FileStorage
		notifier Notifier
		logger   core.Logger
	}
)

func NewService(
	repo Repository,
	classSvc *class.Service,
	usrSvc *user.Service,
	storage core.FileStorage,
	notifier Notifier,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		classSvc: classSvc,
		usrSvc:   usrSvc,
		storage:  storage,
		notifier: notifier,
		logger:   logger,
	}
}

// CreateTrial creates a provisional (unpaid) enrollment for the student.
// ExpiresAt is only set when the class is already running; for a class that
// has not started, trial expiry anchors at the class start date instead.
// The student's one-trial flag is consumed at request time.
func (svc *Service) CreateTrial(usr user.User, classID string) (Enrollment, error) {
	if usr.HasUsedTrial {
		return Enrollment{}, core.NewConflictError(ErrTrialUsed)
	}

	cls, err := svc.classSvc.GetByID(classID)
	if err != nil {
		return Enrollment{}, err
	}

	now := time.Now().UTC()
	enr := Enrollment{
		StudentID:         usr.ID,
		ClassID:           cls.ID,
		Status:            StatusTrial,
		PaymentAmount:     cls.Price,
		PriceAtEnrollment: cls.Price,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if cls.Status == class.StatusInProgress {
		expiresAt := core.EndOfDay(now.Add(core.Conf.TrialPeriodDelta))
		enr.ExpiresAt = &expiresAt
	}

	enr, err = svc.create(enr, cls.MaxStudents)
	if err != nil {
		return Enrollment{}, err
	}

	if err := svc.usrSvc.MarkTrialUsed(usr.ID); err != nil {
		svc.logger.Error(fmt.Sprintf("marking trial used for user %s: %v", usr.ID, err), err)
	}
	svc.notifier.Emit(
		[]string{usr.ID},
		"Trial enrollment created",
		fmt.Sprintf("Your trial for %s has been created.", cls.Subject),
		"/classes/"+cls.ID,
	)
	return enr, nil
}

// CreatePaid creates a paid enrollment awaiting the first payment proof.
func (svc *Service) CreatePaid(usr user.User, classID string) (Enrollment, error) {
	cls, err := svc.classSvc.GetByID(classID)
	if err != nil {
		return Enrollment{}, err
	}

	now := time.Now().UTC()
	enr := Enrollment{
		StudentID:         usr.ID,
		ClassID:           cls.ID,
		Status:            StatusPendingPayment,
		PaymentAmount:     cls.Price,
		PriceAtEnrollment: cls.Price,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	enr, err = svc.create(enr, cls.MaxStudents)
	if err != nil {
		return Enrollment{}, err
	}

	svc.notifier.Emit(
		[]string{usr.ID},
		"Enrollment created",
		fmt.Sprintf("Your enrollment in %s is awaiting payment.", cls.Subject),
		"/classes/"+cls.ID,
	)
	return enr, nil
}

func (svc *Service) create(enr Enrollment, maxStudents int) (Enrollment, error) {
	enr, err := svc.repo.CreateEnrollment(enr, maxStudents)
	if err != nil {
		switch errors.Cause(err) {
		case ErrAlreadyEnrolled, ErrClassFull:
			return Enrollment{}, core.NewConflictError(err)
		}
		return Enrollment{}, err
	}
	return enr, nil
}

func (svc *Service) GetByID(id string) (Enrollment, error) {
	return svc.repo.GetEnrollmentByID(id)
}

func (svc *Service) QueryByStudent(studentID string) ([]Enrollment, error) {
	return svc.repo.QueryEnrollmentsByStudent(studentID)
}

func (svc *Service) QueryByClass(classID string, statuses ...Status) ([]Enrollment, error) {
	return svc.repo.QueryEnrollmentsByClass(classID, statuses...)
}

func (svc *Service) Filter(filter QueryFilter, pq core.PageQuery, orderings ...core.DBOrdering) ([]Enrollment, int, error) {
	return svc.repo.FilterEnrollments(filter, pq, orderings...)
}

// SubmitPaymentProof validates and stores an offline-payment proof, records a
// pending payment and moves the enrollment to its proof-submitted state.
// Validation happens before any object-store call. For already-enrolled (or
// suspended) students paying a monthly cycle, the proof attaches to the open
// cycle without a state change.
func (svc *Service) SubmitPaymentProof(ctx context.Context, enrollmentID, studentID string, upload core.Upload) (Enrollment, error) {
	enr, err := svc.repo.GetEnrollmentByID(enrollmentID)
	if err != nil {
		return Enrollment{}, err
	}
	if enr.StudentID != studentID {
		return Enrollment{}, ErrNotFound
	}

	var next Status
	switch enr.Status {
	case StatusPendingPayment, StatusProofRejected:
		next = StatusProofSubmitted
	case StatusTrial, StatusTrialProofRejected:
		next = StatusTrialProofSubmitted
	case StatusEnrolled, StatusSuspended:
		next = enr.Status // monthly cycle; no state change
	default:
		return Enrollment{}, core.NewConflictError(
			fmt.Errorf("cannot submit payment proof while enrollment is %q", enr.Status))
	}

	if err := upload.Validate(core.PaymentProofTypes); err != nil {
		return Enrollment{}, err
	}

	key := fmt.Sprintf("payment-proofs/%s/%s%s", studentID, uuid.New().String(), filepath.Ext(upload.Filename))
	url, err := svc.storage.Save(ctx, key, upload)
	if err != nil {
		return Enrollment{}, errors.Wrap(err, "saving payment proof")
	}

	now := time.Now().UTC()
	enr.ProofURL = url
	if i := enr.pendingPaymentIdx(); i >= 0 {
		enr.PaymentsMade[i].ProofURL = url
		enr.PaymentsMade[i].SubmittedAt = &now
	} else {
		enr.PaymentsMade = append(enr.PaymentsMade, Payment{
			Amount:      enr.PaymentAmount,
			Date:        now,
			Status:      PaymentPending,
			ProofURL:    url,
			SubmittedAt: &now,
		})
	}
	enr.Status = next
	enr.UpdatedAt = now
	return svc.repo.UpdateEnrollment(enr)
}

// ApprovePaymentProof marks the payment under review as paid and moves the
// enrollment to enrolled. This is the only place the proof_submitted ->
// enrolled transition happens.
func (svc *Service) ApprovePaymentProof(enrollmentID, adminID string) (Enrollment, error) {
	enr, err := svc.repo.GetEnrollmentByID(enrollmentID)
	if err != nil {
		return Enrollment{}, err
	}

	switch enr.Status {
	case StatusProofSubmitted, StatusTrialProofSubmitted, StatusSuspended:
		if err := ValidateTransition(enr.Status, StatusEnrolled); err != nil {
			return Enrollment{}, err
		}
		enr.Status = StatusEnrolled
	case StatusEnrolled:
		// monthly cycle payment; no state change
	default:
		return Enrollment{}, core.NewConflictError(
			fmt.Errorf("cannot approve payment while enrollment is %q", enr.Status))
	}

	i := enr.pendingPaymentIdx()
	if i < 0 {
		return Enrollment{}, core.NewConflictError(ErrNoOpenPayment)
	}

	now := time.Now().UTC()
	enr.PaymentsMade[i].Status = PaymentPaid
	enr.PaymentsMade[i].Date = now
	if enr.PaymentsMade[i].Notes == "" {
		enr.PaymentsMade[i].Notes = "approved by " + adminID
	}
	enr.LastPaymentDate = &now
	if enr.NextPaymentDueDate != nil {
		due := enr.NextPaymentDueDate.AddDate(0, 1, 0)
		enr.NextPaymentDueDate = &due
	} else if enr.BillingStartDate == nil {
		// joined after the class started: StartClassBilling has already run,
		// so the monthly cycle anchors at this first approval instead
		cls, err := svc.classSvc.GetByID(enr.ClassID)
		if err != nil {
			return Enrollment{}, err
		}
		if cls.Status == class.StatusInProgress {
			start, due := now, now.AddDate(0, 1, 0)
			enr.BillingStartDate = &start
			enr.NextPaymentDueDate = &due
			if enr.PriceAtEnrollment == 0 {
				enr.PriceAtEnrollment = cls.Price
			}
		}
	}
	enr.UpdatedAt = now

	enr, err = svc.repo.UpdateEnrollment(enr)
	if err != nil {
		return Enrollment{}, err
	}

	svc.notifier.Emit(
		[]string{enr.StudentID},
		"Payment approved",
		"Your payment has been approved. You are enrolled.",
		"/classes/"+enr.ClassID,
	)
	return enr, nil
}

// RejectPaymentProof marks the payment under review as rejected and moves the
// enrollment to its proof-rejected state so the student may re-submit.
func (svc *Service) RejectPaymentProof(enrollmentID, adminID, reason string) (Enrollment, error) {
	enr, err := svc.repo.GetEnrollmentByID(enrollmentID)
	if err != nil {
		return Enrollment{}, err
	}

	switch enr.Status {
	case StatusProofSubmitted:
		enr.Status = StatusProofRejected
	case StatusTrialProofSubmitted:
		enr.Status = StatusTrialProofRejected
	case StatusEnrolled, StatusSuspended:
		// monthly cycle proof rejected; no state change
	default:
		return Enrollment{}, core.NewConflictError(
			fmt.Errorf("cannot reject payment while enrollment is %q", enr.Status))
	}

	i := enr.pendingPaymentIdx()
	if i < 0 {
		return Enrollment{}, core.NewConflictError(ErrNoOpenPayment)
	}

	now := time.Now().UTC()
	enr.PaymentsMade[i].Status = PaymentRejected
	enr.PaymentsMade[i].Notes = reason
	enr.UpdatedAt = now

	enr, err = svc.repo.UpdateEnrollment(enr)
	if err != nil {
		return Enrollment{}, err
	}

	msg := "Your payment proof has been rejected. Please submit a new one."
	if reason != "" {
		msg = fmt.Sprintf("Your payment proof has been rejected: %s. Please submit a new one.", reason)
	}
	svc.notifier.Emit([]string{enr.StudentID}, "Payment rejected", msg, "/classes/"+enr.ClassID)
	return enr, nil
}

// StartClassBilling initializes billing for every enrolled student of a class
// that just started: billing anchors at the start date, the next cycle is due
// one month later, and one synthetic paid payment records the enrollment fee
// already settled. All billing mutations commit in a single transaction;
// notifications go out after commit and are individually fallible. The whole
// operation is idempotent: enrollments already billed are skipped.
func (svc *Service) StartClassBilling(classID string, startDate time.Time) error {
	cls, err := svc.classSvc.GetByID(classID)
	if err != nil {
		return err
	}

	enrs, err := svc.repo.QueryEnrollmentsByClass(classID, StatusEnrolled)
	if err != nil {
		return errors.Wrap(err, "querying enrolled students")
	}

	nextDue := startDate.AddDate(0, 1, 0)
	batch := make([]Enrollment, 0, len(enrs))
	for _, enr := range enrs {
		if enr.BillingStartDate != nil {
			continue // already billed; idempotent re-run
		}
		start, due := startDate, nextDue
		enr.BillingStartDate = &start
		enr.NextPaymentDueDate = &due
		if enr.PaymentAmount > 0 {
			enr.PriceAtEnrollment = enr.PaymentAmount
		} else {
			enr.PriceAtEnrollment = cls.Price
			enr.PaymentAmount = cls.Price
		}
		enr.PaymentsMade = append(enr.PaymentsMade, Payment{
			Amount: enr.PriceAtEnrollment,
			Date:   enr.UpdatedAt,
			Status: PaymentPaid,
			Notes:  initialPaymentNote,
		})
		enr.UpdatedAt = time.Now().UTC()
		batch = append(batch, enr)
	}
	if len(batch) == 0 {
		return svc.anchorTrialExpiries(classID, startDate)
	}

	if err := svc.repo.UpdateEnrollmentsBilling(batch); err != nil {
		return errors.Wrap(err, "applying billing batch")
	}

	for _, enr := range batch {
		svc.notifier.Emit(
			[]string{enr.StudentID},
			"Class started",
			fmt.Sprintf("%s has started. Your next payment is due on %s.",
				cls.Subject, enr.NextPaymentDueDate.Format("2006-01-02")),
			"/classes/"+cls.ID,
		)
	}
	return svc.anchorTrialExpiries(classID, startDate)
}

// anchorTrialExpiries stamps the expiry of trials created before the class
// started: their ExpiresAt stays unset until the start date is known.
func (svc *Service) anchorTrialExpiries(classID string, startDate time.Time) error {
	trials, err := svc.repo.QueryEnrollmentsByClass(classID, StatusTrial, StatusTrialProofRejected)
	if err != nil {
		return errors.Wrap(err, "querying trial students")
	}
	for _, enr := range trials {
		if enr.ExpiresAt != nil {
			continue
		}
		expiresAt := core.EndOfDay(startDate.Add(core.Conf.TrialPeriodDelta))
		enr.ExpiresAt = &expiresAt
		enr.UpdatedAt = time.Now().UTC()
		if _, err := svc.repo.UpdateEnrollment(enr); err != nil {
			svc.logger.Error(fmt.Sprintf("anchoring trial expiry for enrollment %s: %v", enr.ID, err), err)
		}
	}
	return nil
}

// ExpireTrials cancels every trial whose expiry date has passed.
func (svc *Service) ExpireTrials(asOf time.Time) (int, error) {
	enrs, err := svc.repo.QueryExpiredTrials(asOf)
	if err != nil {
		return 0, err
	}

	var n int
	for _, enr := range enrs {
		if err := ValidateTransition(enr.Status, StatusCancelled); err != nil {
			continue
		}
		enr.Status = StatusCancelled
		enr.UpdatedAt = time.Now().UTC()
		if _, err := svc.repo.UpdateEnrollment(enr); err != nil {
			svc.logger.Error(fmt.Sprintf("expiring trial %s: %v", enr.ID, err), err)
			continue
		}
		n++
		svc.notifier.Emit(
			[]string{enr.StudentID},
			"Trial expired",
			"Your trial period has ended. Enroll to keep attending.",
			"/classes/"+enr.ClassID,
		)
	}
	return n, nil
}

// MarkOverdue opens an overdue payment for every enrolled student past their
// due date, and suspends those past the grace period.
func (svc *Service) MarkOverdue(asOf time.Time) (int, error) {
	enrs, err := svc.repo.QueryPastDueEnrollments(asOf)
	if err != nil {
		return 0, err
	}

	var n int
	for _, enr := range enrs {
		if enr.NextPaymentDueDate == nil {
			continue
		}
		due := *enr.NextPaymentDueDate

		if !enr.hasPaymentForCycle(due) {
			enr.PaymentsMade = append(enr.PaymentsMade, Payment{
				Amount: enr.PaymentAmount,
				Date:   due,
				Status: PaymentOverdue,
				Notes:  "payment overdue",
			})
		}

		title, msg := "Payment due", "Your monthly payment is overdue. Please submit a payment proof."
		if asOf.After(due.Add(core.Conf.PaymentGraceDelta)) && enr.Status == StatusEnrolled {
			if err := ValidateTransition(enr.Status, StatusSuspended); err == nil {
				enr.Status = StatusSuspended
				title, msg = "Enrollment suspended", "Your enrollment has been suspended due to non-payment."
			}
		}

		enr.UpdatedAt = time.Now().UTC()
		if _, err := svc.repo.UpdateEnrollment(enr); err != nil {
			svc.logger.Error(fmt.Sprintf("marking enrollment %s overdue: %v", enr.ID, err), err)
			continue
		}
		n++
		svc.notifier.Emit([]string{enr.StudentID}, title, msg, "/classes/"+enr.ClassID)
	}
	return n, nil
}

// Cancel moves the enrollment to cancelled.
func (svc *Service) Cancel(enrollmentID string) (Enrollment, error) {
	enr, err := svc.repo.GetEnrollmentByID(enrollmentID)
	if err != nil {
		return Enrollment{}, err
	}
	if err := ValidateTransition(enr.Status, StatusCancelled); err != nil {
		return Enrollment{}, err
	}
	enr.Status = StatusCancelled
	enr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateEnrollment(enr)
}
