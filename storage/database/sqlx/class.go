package sqlxrepos

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/classnet/backend/core/class"
)

type classRow struct {
	ID               string        `db:"id"`
	TeacherID        string        `db:"teacher_id"`
	Subject          string        `db:"subject"`
	Level            string        `db:"level"`
	Description      string        `db:"description"`
	StartTime        string        `db:"start_time"`
	EndTime          string        `db:"end_time"`
	SelectedDays     pq.Int64Array `db:"selected_days"`
	DurationWeeks    int           `db:"duration_weeks"`
	StartDate        sql.NullTime  `db:"start_date"`
	Price            float64       `db:"price"`
	Currency         string        `db:"currency"`
	MaxStudents      int           `db:"max_students"`
	PaymentFrequency string        `db:"payment_frequency"`
	PaymentDay       int           `db:"payment_day"`
	EnrollmentFee    float64       `db:"enrollment_fee"`
	Status           string        `db:"status"`
	CreatedAt        time.Time     `db:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at"`
}

func (r classRow) toClass() class.Class {
	days := make([]int, 0, len(r.SelectedDays))
	for _, d := range r.SelectedDays {
		days = append(days, int(d))
	}
	cls := class.Class{
		ID:               r.ID,
		TeacherID:        r.TeacherID,
		Subject:          r.Subject,
		Level:            r.Level,
		Description:      r.Description,
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		SelectedDays:     days,
		DurationWeeks:    r.DurationWeeks,
		Price:            r.Price,
		Currency:         r.Currency,
		MaxStudents:      r.MaxStudents,
		PaymentFrequency: r.PaymentFrequency,
		PaymentDay:       r.PaymentDay,
		EnrollmentFee:    r.EnrollmentFee,
		Status:           class.Status(r.Status),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.StartDate.Valid {
		startDate := r.StartDate.Time
		cls.StartDate = &startDate
	}
	return cls
}

func toDayArray(days []int) pq.Int64Array {
	arr := make(pq.Int64Array, 0, len(days))
	for _, d := range days {
		arr = append(arr, int64(d))
	}
	return arr
}

const classColumns = `id, teacher_id, subject, level, description, start_time, end_time,
	selected_days, duration_weeks, start_date, price, currency, max_students,
	payment_frequency, payment_day, enrollment_fee, status, created_at, updated_at`

type classRepository struct {
	db *sqlx.DB
}

var _ class.Repository = (*classRepository)(nil)

func NewClassRepository(db *sqlx.DB) *classRepository {
	return &classRepository{db: db}
}

func (repo *classRepository) CreateClass(cls class.Class) (class.Class, error) {
	if cls.ID == "" {
		cls.ID = uuid.New().String()
	}
	_, err := repo.db.Exec(
		`INSERT INTO class (id, teacher_id, subject, level, description, start_time, end_time,
			selected_days, duration_weeks, price, currency, max_students, payment_frequency,
			payment_day, enrollment_fee, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		cls.ID, cls.TeacherID, cls.Subject, cls.Level, cls.Description, cls.StartTime, cls.EndTime,
		toDayArray(cls.SelectedDays), cls.DurationWeeks, cls.Price, cls.Currency, cls.MaxStudents,
		cls.PaymentFrequency, cls.PaymentDay, cls.EnrollmentFee, cls.Status, cls.CreatedAt, cls.UpdatedAt,
	)
	if err != nil {
		return class.Class{}, errors.Wrap(err, "creating class")
	}
	return cls, nil
}

func (repo *classRepository) GetClassByID(id string) (class.Class, error) {
	var row classRow
	err := repo.db.Get(&row, fmt.Sprintf(`SELECT %s FROM class WHERE id = $1`, classColumns), id)
	if err != nil {
		if err == sql.ErrNoRows {
			return class.Class{}, class.ErrNotFound
		}
		return class.Class{}, errors.Wrap(err, "getting class")
	}
	return row.toClass(), nil
}

func (repo *classRepository) QueryClassesByTeacher(teacherID string) ([]class.Class, error) {
	return repo.queryClasses(
		fmt.Sprintf(`SELECT %s FROM class WHERE teacher_id = $1 ORDER BY created_at DESC`, classColumns),
		teacherID,
	)
}

func (repo *classRepository) QueryClassesByStatus(status class.Status) ([]class.Class, error) {
	return repo.queryClasses(
		fmt.Sprintf(`SELECT %s FROM class WHERE status = $1 ORDER BY created_at DESC`, classColumns),
		status,
	)
}

func (repo *classRepository) queryClasses(q string, args ...interface{}) ([]class.Class, error) {
	var rows []classRow
	if err := repo.db.Select(&rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	classes := make([]class.Class, 0, len(rows))
	for _, row := range rows {
		classes = append(classes, row.toClass())
	}
	return classes, nil
}

func (repo *classRepository) UpdateClass(cls class.Class) (class.Class, error) {
	res, err := repo.db.Exec(
		`UPDATE class SET subject = $1, level = $2, description = $3, start_time = $4, end_time = $5,
			selected_days = $6, duration_weeks = $7, price = $8, currency = $9, max_students = $10,
			payment_frequency = $11, payment_day = $12, enrollment_fee = $13, updated_at = $14
		WHERE id = $15`,
		cls.Subject, cls.Level, cls.Description, cls.StartTime, cls.EndTime,
		toDayArray(cls.SelectedDays), cls.DurationWeeks, cls.Price, cls.Currency, cls.MaxStudents,
		cls.PaymentFrequency, cls.PaymentDay, cls.EnrollmentFee, cls.UpdatedAt, cls.ID,
	)
	if err != nil {
		return class.Class{}, errors.Wrap(err, "updating class")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return class.Class{}, class.ErrNotFound
	}
	return repo.GetClassByID(cls.ID)
}

// TransitionClassStatus only succeeds when the class is still in the expected
// status, so concurrent transitions cannot both win.
func (repo *classRepository) TransitionClassStatus(id string, from, to class.Status, startDate *time.Time) (bool, error) {
	var res sql.Result
	var err error
	if startDate != nil {
		res, err = repo.db.Exec(
			`UPDATE class SET status = $1, start_date = $2, updated_at = now() WHERE id = $3 AND status = $4`,
			to, *startDate, id, from,
		)
	} else {
		res, err = repo.db.Exec(
			`UPDATE class SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
			to, id, from,
		)
	}
	if err != nil {
		return false, errors.Wrap(err, "transitioning class status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "transitioning class status")
	}
	return n > 0, nil
}

type weekContentRow struct {
	ID               string         `db:"id"`
	ClassID          string         `db:"class_id"`
	WeekNumber       int            `db:"week_number"`
	MeetingLink      string         `db:"meeting_link"`
	RecordingLink    string         `db:"recording_link"`
	SupportMaterials pq.StringArray `db:"support_materials"`
	Assignment       string         `db:"assignment"`
	AssignmentDueAt  sql.NullTime   `db:"assignment_due_at"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r weekContentRow) toWeekContent() class.WeekContent {
	wc := class.WeekContent{
		ID:               r.ID,
		ClassID:          r.ClassID,
		WeekNumber:       r.WeekNumber,
		MeetingLink:      r.MeetingLink,
		RecordingLink:    r.RecordingLink,
		SupportMaterials: r.SupportMaterials,
		Assignment:       r.Assignment,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.AssignmentDueAt.Valid {
		due := r.AssignmentDueAt.Time
		wc.AssignmentDueAt = &due
	}
	return wc
}

const weekContentColumns = `id, class_id, week_number, meeting_link, recording_link,
	support_materials, assignment, assignment_due_at, created_at, updated_at`

func (repo *classRepository) UpsertWeekContent(wc class.WeekContent) (class.WeekContent, error) {
	if wc.ID == "" {
		wc.ID = uuid.New().String()
	}
	var due interface{}
	if wc.AssignmentDueAt != nil {
		due = *wc.AssignmentDueAt
	}
	var row weekContentRow
	err := repo.db.Get(&row,
		fmt.Sprintf(`INSERT INTO week_content (id, class_id, week_number, meeting_link, recording_link,
			support_materials, assignment, assignment_due_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (class_id, week_number) DO UPDATE SET
			meeting_link = EXCLUDED.meeting_link,
			recording_link = EXCLUDED.recording_link,
			support_materials = EXCLUDED.support_materials,
			assignment = EXCLUDED.assignment,
			assignment_due_at = EXCLUDED.assignment_due_at,
			updated_at = now()
		RETURNING %s`, weekContentColumns),
		wc.ID, wc.ClassID, wc.WeekNumber, wc.MeetingLink, wc.RecordingLink,
		pq.StringArray(wc.SupportMaterials), wc.Assignment, due,
	)
	if err != nil {
		return class.WeekContent{}, errors.Wrap(err, "upserting week content")
	}
	return row.toWeekContent(), nil
}

func (repo *classRepository) GetWeekContent(classID string, weekNumber int) (class.WeekContent, error) {
	var row weekContentRow
	err := repo.db.Get(&row,
		fmt.Sprintf(`SELECT %s FROM week_content WHERE class_id = $1 AND week_number = $2`, weekContentColumns),
		classID, weekNumber,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return class.WeekContent{}, class.ErrNotFound
		}
		return class.WeekContent{}, errors.Wrap(err, "getting week content")
	}
	return row.toWeekContent(), nil
}

func (repo *classRepository) QueryWeekContentByClass(classID string) ([]class.WeekContent, error) {
	var rows []weekContentRow
	err := repo.db.Select(&rows,
		fmt.Sprintf(`SELECT %s FROM week_content WHERE class_id = $1 ORDER BY week_number`, weekContentColumns),
		classID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying week content")
	}
	contents := make([]class.WeekContent, 0, len(rows))
	for _, row := range rows {
		contents = append(contents, row.toWeekContent())
	}
	return contents, nil
}
