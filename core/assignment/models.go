package assignment

import (
	"time"

	"github.com/classnet/backend/core"
)

// DayWork is one day's submission within a week, with its grading fields.
type DayWork struct {
	FileURL      string     `json:"file_url,omitempty"`
	AudioURL     string     `json:"audio_url,omitempty"`
	Message      string     `json:"message,omitempty"`
	FileGrade    *int       `json:"file_grade,omitempty"`
	AudioGrade   *int       `json:"audio_grade,omitempty"`
	OverallGrade *int       `json:"overall_grade,omitempty"`
	Feedback     string     `json:"feedback,omitempty"`
	IsGraded     bool       `json:"is_graded"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
}

// SubmittedAssignment is one student's work for one class and week, keyed by
// day within the Days map. The (ClassID, StudentID, WeekNumber) triple is unique.
type SubmittedAssignment struct {
	ID         string          `json:"id"`
	ClassID    string          `json:"class_id"`
	StudentID  string          `json:"student_id"`
	WeekNumber int             `json:"week_number"`
	Days       map[int]DayWork `json:"days"` // weekday codes 1-7
	IsGraded   bool            `json:"is_graded"`
	GradedBy   string          `json:"graded_by,omitempty"`
	GradedAt   *time.Time      `json:"graded_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"` // UTC
	UpdatedAt  time.Time       `json:"updated_at"` // UTC
}

// Submission contains one day's student submission content. File and audio
// URLs are filled in by the upload handler, never by the client directly.
type Submission struct {
	WeekNumber int    `json:"week_number" validate:"required,gte=1"`
	Day        int    `json:"day" validate:"required,gte=1,lte=7"`
	Message    string `json:"message"`
	FileURL    string `json:"-"`
	AudioURL   string `json:"-"`
}

func (s *Submission) Validate() error {
	s.Message = core.CleanString(s.Message)
	return core.Validate.Struct(s)
}

// Grades is the teacher-provided grading payload for one day's work.
// Each grade dimension, when present, must be within [0,100].
type Grades struct {
	Day          int    `json:"day" validate:"required,gte=1,lte=7"`
	FileGrade    *int   `json:"file_grade" validate:"omitempty,gte=0,lte=100"`
	AudioGrade   *int   `json:"audio_grade" validate:"omitempty,gte=0,lte=100"`
	OverallGrade *int   `json:"overall_grade" validate:"omitempty,gte=0,lte=100"`
	Feedback     string `json:"feedback"`
}

func (g *Grades) Validate() error {
	g.Feedback = core.CleanString(g.Feedback)
	return core.Validate.Struct(g)
}

// Row is the flattened, list-display shape of one day's submission.
// A pure projection of the nested Days map.
type Row struct {
	SubmissionID string     `json:"submission_id"`
	ClassID      string     `json:"class_id"`
	StudentID    string     `json:"student_id"`
	WeekNumber   int        `json:"week_number"`
	Day          int        `json:"day"`
	FileURL      string     `json:"file_url,omitempty"`
	AudioURL     string     `json:"audio_url,omitempty"`
	Message      string     `json:"message,omitempty"`
	FileGrade    *int       `json:"file_grade,omitempty"`
	AudioGrade   *int       `json:"audio_grade,omitempty"`
	OverallGrade *int       `json:"overall_grade,omitempty"`
	Feedback     string     `json:"feedback,omitempty"`
	IsGraded     bool       `json:"is_graded"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
}

// Flatten projects nested per-day maps into row-shaped records, ordered by
// (week, day) within each submission.
func Flatten(subs []SubmittedAssignment) []Row {
	rows := make([]Row, 0, len(subs))
	for _, sub := range subs {
		for day := 1; day <= 7; day++ {
			work, ok := sub.Days[day]
			if !ok {
				continue
			}
			rows = append(rows, Row{
				SubmissionID: sub.ID,
				ClassID:      sub.ClassID,
				StudentID:    sub.StudentID,
				WeekNumber:   sub.WeekNumber,
				Day:          day,
				FileURL:      work.FileURL,
				AudioURL:     work.AudioURL,
				Message:      work.Message,
				FileGrade:    work.FileGrade,
				AudioGrade:   work.AudioGrade,
				OverallGrade: work.OverallGrade,
				Feedback:     work.Feedback,
				IsGraded:     work.IsGraded,
				SubmittedAt:  work.SubmittedAt,
			})
		}
	}
	return rows
}
