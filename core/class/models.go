package class

import (
	"strings"
	"time"

	"github.com/classnet/backend/core"
)

// Status is the closed set of class lifecycle states.
type Status string

const (
	StatusReadyToStart Status = "ready_to_start"
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
)

// Class is a scheduled offering run by one teacher.
type Class struct {
	ID          string `json:"id"`
	TeacherID   string `json:"teacher_id"`
	Subject     string `json:"subject"`
	Level       string `json:"level,omitempty"`
	Description string `json:"description,omitempty"`

	// schedule
	StartTime     string     `json:"start_time"` // "15:04" wall clock
	EndTime       string     `json:"end_time"`
	SelectedDays  []int      `json:"selected_days"` // weekday codes 1-7; Monday=1
	DurationWeeks int        `json:"duration_weeks"`
	StartDate     *time.Time `json:"start_date,omitempty"` // set on transition to in_progress

	// commercial
	Price            float64 `json:"price"`
	Currency         string  `json:"currency"`
	MaxStudents      int     `json:"max_students"`
	PaymentFrequency string  `json:"payment_frequency"`
	PaymentDay       int     `json:"payment_day"`
	EnrollmentFee    float64 `json:"enrollment_fee"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// WeekContent holds one week's teaching material and assignment definition.
type WeekContent struct {
	ID               string     `json:"id"`
	ClassID          string     `json:"class_id"`
	WeekNumber       int        `json:"week_number"`
	MeetingLink      string     `json:"meeting_link,omitempty"`
	RecordingLink    string     `json:"recording_link,omitempty"`
	SupportMaterials []string   `json:"support_materials,omitempty"`
	Assignment       string     `json:"assignment,omitempty"`
	AssignmentDueAt  *time.Time `json:"assignment_due_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"` // UTC
	UpdatedAt        time.Time  `json:"updated_at"` // UTC
}

// NewClass contains information needed to create a new Class.
type NewClass struct {
	Subject          string  `json:"subject" validate:"required"`
	Level            string  `json:"level"`
	Description      string  `json:"description"`
	StartTime        string  `json:"start_time" validate:"required"`
	EndTime          string  `json:"end_time" validate:"required"`
	SelectedDays     []int   `json:"selected_days" validate:"required,min=1,weekday"`
	DurationWeeks    int     `json:"duration_weeks" validate:"required,gte=1"`
	Price            float64 `json:"price" validate:"gte=0"`
	Currency         string  `json:"currency" validate:"required,len=3"`
	MaxStudents      int     `json:"max_students" validate:"required,gte=1"`
	PaymentFrequency string  `json:"payment_frequency" validate:"omitempty,oneof=monthly"`
	PaymentDay       int     `json:"payment_day" validate:"omitempty,gte=1,lte=28"`
	EnrollmentFee    float64 `json:"enrollment_fee" validate:"gte=0"`
}

func (nc *NewClass) Validate() error {
	nc.Subject = core.CleanString(nc.Subject)
	nc.Level = core.CleanString(nc.Level)
	nc.Currency = strings.ToUpper(core.CleanString(nc.Currency))
	if nc.PaymentFrequency == "" {
		nc.PaymentFrequency = "monthly"
	}
	return core.Validate.Struct(nc)
}

// UpdateClass defines what information may be provided to modify an existing Class.
// Schedule and commercial terms are only mutable while the class has not started.
type UpdateClass struct {
	Subject       string  `json:"subject"`
	Level         string  `json:"level"`
	Description   string  `json:"description"`
	StartTime     string  `json:"start_time"`
	EndTime       string  `json:"end_time"`
	SelectedDays  []int   `json:"selected_days" validate:"omitempty,weekday"`
	DurationWeeks int     `json:"duration_weeks" validate:"omitempty,gte=1"`
	Price         float64 `json:"price" validate:"gte=0"`
	MaxStudents   int     `json:"max_students" validate:"omitempty,gte=1"`
}

func (uc *UpdateClass) Validate() error {
	uc.Subject = core.CleanString(uc.Subject)
	uc.Level = core.CleanString(uc.Level)
	return core.Validate.Struct(uc)
}

// UpsertWeekContent is the teacher-provided payload for one week's content.
type UpsertWeekContent struct {
	WeekNumber       int        `json:"week_number" validate:"required,gte=1"`
	MeetingLink      string     `json:"meeting_link" validate:"omitempty,url"`
	RecordingLink    string     `json:"recording_link" validate:"omitempty,url"`
	SupportMaterials []string   `json:"support_materials"`
	Assignment       string     `json:"assignment"`
	AssignmentDueAt  *time.Time `json:"assignment_due_at"`
}

func (wc UpsertWeekContent) Validate() error { return core.Validate.Struct(wc) }
