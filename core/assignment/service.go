package assignment

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/classnet/backend/core/class"
)

var (
	// errors
	ErrNotFound    = errors.New("submission not found")
	ErrDayNotFound = errors.New("no work submitted for this day")
)

type (
	Repository interface {
		GetSubmissionByID(id string) (SubmittedAssignment, error)
		GetSubmissionByKey(classID, studentID string, weekNumber int) (SubmittedAssignment, error)
		CreateSubmission(sub SubmittedAssignment) (SubmittedAssignment, error)
		UpdateSubmission(sub SubmittedAssignment) (SubmittedAssignment, error)
		QuerySubmissionsByStudent(classID, studentID string) ([]SubmittedAssignment, error)
		QuerySubmissionsByClassWeek(classID string, weekNumber int) ([]SubmittedAssignment, error)
	}

	// Notifier posts in-app notifications; sends are fire-and-forget.
	Notifier interface {
		Emit(userIDs []string, title, message, link string)
	}

	Service struct {
		repo     Repository
		classSvc *class.Service
		notifier Notifier
	}
)

func NewService(repo Repository, classSvc *class.Service, notifier Notifier) *Service {
	return &Service{repo: repo, classSvc: classSvc, notifier: notifier}
}

// Submit upserts one day's work, keyed by (classID, studentID, weekNumber).
// The first write creates the weekly record; repeat writes only touch content
// fields. Grading fields belong to the teacher and survive re-submission.
func (svc *Service) Submit(studentID, classID string, in Submission) (SubmittedAssignment, error) {
	now := time.Now().UTC()

	sub, err := svc.repo.GetSubmissionByKey(classID, studentID, in.WeekNumber)
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			return SubmittedAssignment{}, err
		}
		sub = SubmittedAssignment{
			ClassID:    classID,
			StudentID:  studentID,
			WeekNumber: in.WeekNumber,
			Days:       make(map[int]DayWork),
			IsGraded:   false,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		sub.Days[in.Day] = newDayWork(in, now)
		return svc.repo.CreateSubmission(sub)
	}

	if sub.Days == nil {
		sub.Days = make(map[int]DayWork)
	}
	work, ok := sub.Days[in.Day]
	if !ok {
		work = newDayWork(in, now)
	} else {
		// content fields only; grades are never overwritten by the student
		if in.FileURL != "" {
			work.FileURL = in.FileURL
		}
		if in.AudioURL != "" {
			work.AudioURL = in.AudioURL
		}
		work.Message = in.Message
		work.SubmittedAt = &now
	}
	sub.Days[in.Day] = work
	sub.UpdatedAt = now
	return svc.repo.UpdateSubmission(sub)
}

func newDayWork(in Submission, now time.Time) DayWork {
	return DayWork{
		FileURL:     in.FileURL,
		AudioURL:    in.AudioURL,
		Message:     in.Message,
		SubmittedAt: &now,
	}
}

// Grade records the teacher's grades for one day's work. Grades are validated
// up front; an out-of-range value rejects the whole call with no partial update.
func (svc *Service) Grade(submissionID, teacherID string, g Grades) (SubmittedAssignment, error) {
	sub, err := svc.repo.GetSubmissionByID(submissionID)
	if err != nil {
		return SubmittedAssignment{}, err
	}

	work, ok := sub.Days[g.Day]
	if !ok {
		return SubmittedAssignment{}, errors.Wrap(ErrDayNotFound, "grading submission")
	}

	now := time.Now().UTC()
	work.FileGrade = g.FileGrade
	work.AudioGrade = g.AudioGrade
	work.OverallGrade = g.OverallGrade
	work.Feedback = g.Feedback
	work.IsGraded = true
	sub.Days[g.Day] = work
	sub.IsGraded = true
	sub.GradedBy = teacherID
	sub.GradedAt = &now
	sub.UpdatedAt = now

	sub, err = svc.repo.UpdateSubmission(sub)
	if err != nil {
		return SubmittedAssignment{}, err
	}

	subject := "your class"
	if cls, err := svc.classSvc.GetByID(sub.ClassID); err == nil {
		subject = cls.Subject
		if cls.Level != "" {
			subject = fmt.Sprintf("%s (%s)", cls.Subject, cls.Level)
		}
	}
	svc.notifier.Emit(
		[]string{sub.StudentID},
		"Assignment graded",
		fmt.Sprintf("Your week %d assignment for %s has been graded.", sub.WeekNumber, subject),
		"/classes/"+sub.ClassID+"/assignments",
	)
	return sub, nil
}

func (svc *Service) GetByID(id string) (SubmittedAssignment, error) {
	return svc.repo.GetSubmissionByID(id)
}

// QueryByStudent returns the student's submissions for a class, flattened for
// list display.
func (svc *Service) QueryByStudent(classID, studentID string) ([]Row, error) {
	subs, err := svc.repo.QuerySubmissionsByStudent(classID, studentID)
	if err != nil {
		return nil, err
	}
	return Flatten(subs), nil
}

// QueryByClassWeek returns every student's submissions for a class week,
// flattened for the teacher's grading view.
func (svc *Service) QueryByClassWeek(classID string, weekNumber int) ([]Row, error) {
	subs, err := svc.repo.QuerySubmissionsByClassWeek(classID, weekNumber)
	if err != nil {
		return nil, err
	}
	return Flatten(subs), nil
}
