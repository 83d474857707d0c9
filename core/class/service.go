package class

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/classnet/backend/core"
)

var (
	// errors
	ErrNotFound        = errors.New("class not found")
	ErrNotReadyToStart = errors.New("class is not ready to start")
	ErrAlreadyStarted  = errors.New("class has already started")
	ErrNotInProgress   = errors.New("class is not in progress")
)

type (
	Repository interface {
		CreateClass(cls Class) (Class, error)
		GetClassByID(id string) (Class, error)
		QueryClassesByTeacher(teacherID string) ([]Class, error)
		QueryClassesByStatus(status Status) ([]Class, error)
		UpdateClass(cls Class) (Class, error)
		// TransitionClassStatus conditionally moves the class from `from` to `to`,
		// optionally recording startDate. It reports whether the transition won;
		// a concurrent caller that lost the conditional write gets false.
		TransitionClassStatus(id string, from, to Status, startDate *time.Time) (bool, error)
		UpsertWeekContent(wc WeekContent) (WeekContent, error)
		GetWeekContent(classID string, weekNumber int) (WeekContent, error)
		QueryWeekContentByClass(classID string) ([]WeekContent, error)
	}

	// BillingStarter initializes billing for every enrolled student of a class
	// that just started. Implemented by the enrollment engine.
	BillingStarter interface {
		StartClassBilling(classID string, startDate time.Time) error
	}

	Service struct {
		repo    Repository
		billing BillingStarter
		logger  core.Logger
	}
)

func NewService(repo Repository, billing BillingStarter, logger core.Logger) *Service {
	return &Service{repo: repo, billing: billing, logger: logger}
}

func (svc *Service) Create(teacherID string, nc NewClass) (Class, error) {
	now := time.Now().UTC()
	cls := Class{
		TeacherID:        teacherID,
		Subject:          nc.Subject,
		Level:            nc.Level,
		Description:      nc.Description,
		StartTime:        nc.StartTime,
		EndTime:          nc.EndTime,
		SelectedDays:     nc.SelectedDays,
		DurationWeeks:    nc.DurationWeeks,
		Price:            nc.Price,
		Currency:         nc.Currency,
		MaxStudents:      nc.MaxStudents,
		PaymentFrequency: nc.PaymentFrequency,
		PaymentDay:       nc.PaymentDay,
		EnrollmentFee:    nc.EnrollmentFee,
		Status:           StatusReadyToStart,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return svc.repo.CreateClass(cls)
}

func (svc *Service) GetByID(id string) (Class, error) {
	return svc.repo.GetClassByID(id)
}

func (svc *Service) QueryByTeacher(teacherID string) ([]Class, error) {
	return svc.repo.QueryClassesByTeacher(teacherID)
}

func (svc *Service) QueryByStatus(status Status) ([]Class, error) {
	return svc.repo.QueryClassesByStatus(status)
}

func (svc *Service) Update(cls Class, uc UpdateClass) (Class, error) {
	if cls.Status != StatusReadyToStart {
		return Class{}, core.NewConflictError(ErrAlreadyStarted)
	}

	if uc.Subject != "" {
		cls.Subject = uc.Subject
	}
	if uc.Level != "" {
		cls.Level = uc.Level
	}
	if uc.Description != "" {
		cls.Description = uc.Description
	}
	if uc.StartTime != "" {
		cls.StartTime = uc.StartTime
	}
	if uc.EndTime != "" {
		cls.EndTime = uc.EndTime
	}
	if uc.SelectedDays != nil {
		cls.SelectedDays = uc.SelectedDays
	}
	if uc.DurationWeeks > 0 {
		cls.DurationWeeks = uc.DurationWeeks
	}
	if uc.Price > 0 {
		cls.Price = uc.Price
	}
	if uc.MaxStudents > 0 {
		cls.MaxStudents = uc.MaxStudents
	}
	cls.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateClass(cls)
}

// Start moves the class from ready_to_start to in_progress, records the start
// date and initializes billing for every enrolled student. The status check
// and the write are one conditional update, so two concurrent starts cannot
// both win.
func (svc *Service) Start(id string) (Class, error) {
	cls, err := svc.repo.GetClassByID(id)
	if err != nil {
		return Class{}, err
	}
	if cls.Status != StatusReadyToStart {
		return Class{}, core.NewConflictError(ErrNotReadyToStart)
	}

	startDate := time.Now().UTC()
	won, err := svc.repo.TransitionClassStatus(id, StatusReadyToStart, StatusInProgress, &startDate)
	if err != nil {
		return Class{}, errors.Wrap(err, "transitioning class status")
	}
	if !won {
		return Class{}, core.NewConflictError(ErrNotReadyToStart)
	}
	cls.Status = StatusInProgress
	cls.StartDate = &startDate

	if err := svc.billing.StartClassBilling(cls.ID, startDate); err != nil {
		// the class is started regardless; billing init is idempotent and can be retried
		svc.logger.Error(fmt.Sprintf("initializing billing for class %s: %v", cls.ID, err), err)
	}
	return cls, nil
}

func (svc *Service) Complete(id string) (Class, error) {
	return svc.finish(id, StatusInProgress, StatusCompleted, ErrNotInProgress)
}

func (svc *Service) Cancel(id string) (Class, error) {
	cls, err := svc.repo.GetClassByID(id)
	if err != nil {
		return Class{}, err
	}
	if cls.Status == StatusCompleted || cls.Status == StatusCancelled {
		return Class{}, core.NewConflictError(errors.New("class is already finished"))
	}
	won, err := svc.repo.TransitionClassStatus(id, cls.Status, StatusCancelled, nil)
	if err != nil {
		return Class{}, errors.Wrap(err, "transitioning class status")
	}
	if !won {
		return Class{}, core.NewConflictError(errors.New("class state changed concurrently"))
	}
	cls.Status = StatusCancelled
	return cls, nil
}

func (svc *Service) finish(id string, from, to Status, stateErr error) (Class, error) {
	cls, err := svc.repo.GetClassByID(id)
	if err != nil {
		return Class{}, err
	}
	if cls.Status != from {
		return Class{}, core.NewConflictError(stateErr)
	}
	won, err := svc.repo.TransitionClassStatus(id, from, to, nil)
	if err != nil {
		return Class{}, errors.Wrap(err, "transitioning class status")
	}
	if !won {
		return Class{}, core.NewConflictError(stateErr)
	}
	cls.Status = to
	return cls, nil
}

// SetWeekContent upserts one week's content for a class.
func (svc *Service) SetWeekContent(cls Class, in UpsertWeekContent) (WeekContent, error) {
	if in.WeekNumber > cls.DurationWeeks {
		return WeekContent{}, core.NewValidationError(
			errors.New("week number is beyond the class duration"),
			core.FieldError{Field: "week_number", Error: "week number is beyond the class duration"},
		)
	}

	now := time.Now().UTC()
	wc := WeekContent{
		ClassID:          cls.ID,
		WeekNumber:       in.WeekNumber,
		MeetingLink:      in.MeetingLink,
		RecordingLink:    in.RecordingLink,
		SupportMaterials: in.SupportMaterials,
		Assignment:       in.Assignment,
		AssignmentDueAt:  in.AssignmentDueAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return svc.repo.UpsertWeekContent(wc)
}

func (svc *Service) GetWeekContent(classID string, weekNumber int) (WeekContent, error) {
	return svc.repo.GetWeekContent(classID, weekNumber)
}

func (svc *Service) QueryWeekContent(classID string) ([]WeekContent, error) {
	return svc.repo.QueryWeekContentByClass(classID)
}
