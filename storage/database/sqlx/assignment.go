package sqlxrepos

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"

	"github.com/classnet/backend/core/assignment"
)

type submissionRow struct {
	ID         string         `db:"id"`
	ClassID    string         `db:"class_id"`
	StudentID  string         `db:"student_id"`
	WeekNumber int            `db:"week_number"`
	Days       types.JSONText `db:"days"`
	IsGraded   bool           `db:"is_graded"`
	GradedBy   string         `db:"graded_by"`
	GradedAt   sql.NullTime   `db:"graded_at"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r submissionRow) toSubmission() (assignment.SubmittedAssignment, error) {
	sub := assignment.SubmittedAssignment{
		ID:         r.ID,
		ClassID:    r.ClassID,
		StudentID:  r.StudentID,
		WeekNumber: r.WeekNumber,
		IsGraded:   r.IsGraded,
		GradedBy:   r.GradedBy,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.GradedAt.Valid {
		t := r.GradedAt.Time
		sub.GradedAt = &t
	}
	if err := unmarshalJSONB(r.Days, &sub.Days); err != nil {
		return assignment.SubmittedAssignment{}, errors.Wrap(err, "decoding day work")
	}
	if sub.Days == nil {
		sub.Days = make(map[int]assignment.DayWork)
	}
	return sub, nil
}

const submissionColumns = `id, class_id, student_id, week_number, days, is_graded,
	graded_by, graded_at, created_at, updated_at`

type assignmentRepository struct {
	db *sqlx.DB
}

var _ assignment.Repository = (*assignmentRepository)(nil)

func NewAssignmentRepository(db *sqlx.DB) *assignmentRepository {
	return &assignmentRepository{db: db}
}

func (repo *assignmentRepository) GetSubmissionByID(id string) (assignment.SubmittedAssignment, error) {
	return repo.getSubmission(`WHERE id = $1`, id)
}

func (repo *assignmentRepository) GetSubmissionByKey(classID, studentID string, weekNumber int) (assignment.SubmittedAssignment, error) {
	return repo.getSubmission(`WHERE class_id = $1 AND student_id = $2 AND week_number = $3`, classID, studentID, weekNumber)
}

func (repo *assignmentRepository) getSubmission(where string, args ...interface{}) (assignment.SubmittedAssignment, error) {
	var row submissionRow
	err := repo.db.Get(&row, fmt.Sprintf(`SELECT %s FROM submitted_assignment %s`, submissionColumns, where), args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return assignment.SubmittedAssignment{}, assignment.ErrNotFound
		}
		return assignment.SubmittedAssignment{}, errors.Wrap(err, "getting submission")
	}
	return row.toSubmission()
}

func (repo *assignmentRepository) CreateSubmission(sub assignment.SubmittedAssignment) (assignment.SubmittedAssignment, error) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	days, err := marshalJSONB(sub.Days)
	if err != nil {
		return assignment.SubmittedAssignment{}, errors.Wrap(err, "encoding day work")
	}
	_, err = repo.db.Exec(
		`INSERT INTO submitted_assignment (id, class_id, student_id, week_number, days,
			is_graded, graded_by, graded_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sub.ID, sub.ClassID, sub.StudentID, sub.WeekNumber, days,
		sub.IsGraded, sub.GradedBy, nullTime(sub.GradedAt), sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return assignment.SubmittedAssignment{}, errors.Wrap(err, "creating submission")
	}
	return sub, nil
}

func (repo *assignmentRepository) UpdateSubmission(sub assignment.SubmittedAssignment) (assignment.SubmittedAssignment, error) {
	days, err := marshalJSONB(sub.Days)
	if err != nil {
		return assignment.SubmittedAssignment{}, errors.Wrap(err, "encoding day work")
	}
	res, err := repo.db.Exec(
		`UPDATE submitted_assignment SET days = $1, is_graded = $2, graded_by = $3,
			graded_at = $4, updated_at = $5
		WHERE id = $6`,
		days, sub.IsGraded, sub.GradedBy, nullTime(sub.GradedAt), sub.UpdatedAt, sub.ID,
	)
	if err != nil {
		return assignment.SubmittedAssignment{}, errors.Wrap(err, "updating submission")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return assignment.SubmittedAssignment{}, assignment.ErrNotFound
	}
	return sub, nil
}

func (repo *assignmentRepository) QuerySubmissionsByStudent(classID, studentID string) ([]assignment.SubmittedAssignment, error) {
	return repo.querySubmissions(
		fmt.Sprintf(`SELECT %s FROM submitted_assignment
			WHERE class_id = $1 AND student_id = $2 ORDER BY week_number`, submissionColumns),
		classID, studentID,
	)
}

func (repo *assignmentRepository) QuerySubmissionsByClassWeek(classID string, weekNumber int) ([]assignment.SubmittedAssignment, error) {
	return repo.querySubmissions(
		fmt.Sprintf(`SELECT %s FROM submitted_assignment
			WHERE class_id = $1 AND week_number = $2 ORDER BY created_at`, submissionColumns),
		classID, weekNumber,
	)
}

func (repo *assignmentRepository) querySubmissions(q string, args ...interface{}) ([]assignment.SubmittedAssignment, error) {
	var rows []submissionRow
	if err := repo.db.Select(&rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	subs := make([]assignment.SubmittedAssignment, 0, len(rows))
	for _, row := range rows {
		sub, err := row.toSubmission()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
