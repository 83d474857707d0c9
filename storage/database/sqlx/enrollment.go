package sqlxrepos

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/enrollment"
)

type enrollmentRow struct {
	ID                 string         `db:"id"`
	StudentID          string         `db:"student_id"`
	ClassID            string         `db:"class_id"`
	Status             string         `db:"status"`
	PaymentAmount      float64        `db:"payment_amount"`
	PriceAtEnrollment  float64        `db:"price_at_enrollment"`
	BillingStartDate   sql.NullTime   `db:"billing_start_date"`
	NextPaymentDueDate sql.NullTime   `db:"next_payment_due_date"`
	LastPaymentDate    sql.NullTime   `db:"last_payment_date"`
	PaymentsMade       types.JSONText `db:"payments_made"`
	ProofURL           string         `db:"proof_url"`
	ExpiresAt          sql.NullTime   `db:"expires_at"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r enrollmentRow) toEnrollment() (enrollment.Enrollment, error) {
	enr := enrollment.Enrollment{
		ID:                r.ID,
		StudentID:         r.StudentID,
		ClassID:           r.ClassID,
		Status:            enrollment.Status(r.Status),
		PaymentAmount:     r.PaymentAmount,
		PriceAtEnrollment: r.PriceAtEnrollment,
		ProofURL:          r.ProofURL,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.BillingStartDate.Valid {
		t := r.BillingStartDate.Time
		enr.BillingStartDate = &t
	}
	if r.NextPaymentDueDate.Valid {
		t := r.NextPaymentDueDate.Time
		enr.NextPaymentDueDate = &t
	}
	if r.LastPaymentDate.Valid {
		t := r.LastPaymentDate.Time
		enr.LastPaymentDate = &t
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		enr.ExpiresAt = &t
	}
	if err := unmarshalJSONB(r.PaymentsMade, &enr.PaymentsMade); err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "decoding payments")
	}
	return enr, nil
}

const enrollmentColumns = `id, student_id, class_id, status, payment_amount, price_at_enrollment,
	billing_start_date, next_payment_due_date, last_payment_date, payments_made, proof_url,
	expires_at, created_at, updated_at`

type enrollmentRepository struct {
	db *sqlx.DB
}

var _ enrollment.Repository = (*enrollmentRepository)(nil)

func NewEnrollmentRepository(db *sqlx.DB) *enrollmentRepository {
	return &enrollmentRepository{db: db}
}

func capacityStatusValues() []string {
	vals := make([]string, 0, len(enrollment.CapacityStatuses))
	for _, s := range enrollment.CapacityStatuses {
		vals = append(vals, string(s))
	}
	return vals
}

// CreateEnrollment inserts the enrollment only when the (student, class) pair
// is new and the class still has a seat. The class row is locked for the
// duration of the check-and-insert, so two concurrent requests for the last
// seat serialize and cannot both succeed.
func (repo *enrollmentRepository) CreateEnrollment(enr enrollment.Enrollment, maxStudents int) (enrollment.Enrollment, error) {
	if enr.ID == "" {
		enr.ID = uuid.New().String()
	}
	payments, err := marshalJSONB(enr.PaymentsMade)
	if err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "encoding payments")
	}

	tx, err := repo.db.Beginx()
	if err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var clsID string
	if err := tx.Get(&clsID, `SELECT id FROM class WHERE id = $1 FOR UPDATE`, enr.ClassID); err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "locking class")
	}

	var exists bool
	err = tx.Get(&exists,
		`SELECT EXISTS (SELECT 1 FROM enrollment WHERE student_id = $1 AND class_id = $2)`,
		enr.StudentID, enr.ClassID,
	)
	if err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "checking enrollment pair")
	}
	if exists {
		return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
	}

	var seated int
	err = tx.Get(&seated,
		`SELECT count(*) FROM enrollment WHERE class_id = $1 AND status = ANY($2)`,
		enr.ClassID, pq.StringArray(capacityStatusValues()),
	)
	if err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "counting seats")
	}
	if seated >= maxStudents {
		return enrollment.Enrollment{}, enrollment.ErrClassFull
	}

	_, err = tx.Exec(
		`INSERT INTO enrollment (id, student_id, class_id, status, payment_amount,
			price_at_enrollment, payments_made, proof_url, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		enr.ID, enr.StudentID, enr.ClassID, enr.Status, enr.PaymentAmount,
		enr.PriceAtEnrollment, payments, enr.ProofURL, nullTime(enr.ExpiresAt),
		enr.CreatedAt, enr.UpdatedAt,
	)
	if err != nil {
		// the unique (student_id, class_id) constraint backstops the pair check
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
		}
		return enrollment.Enrollment{}, errors.Wrap(err, "creating enrollment")
	}
	if err := tx.Commit(); err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "committing enrollment")
	}
	return enr, nil
}

func (repo *enrollmentRepository) GetEnrollmentByID(id string) (enrollment.Enrollment, error) {
	return repo.getEnrollment(`WHERE id = $1`, id)
}

func (repo *enrollmentRepository) GetEnrollmentByStudentAndClass(studentID, classID string) (enrollment.Enrollment, error) {
	return repo.getEnrollment(`WHERE student_id = $1 AND class_id = $2`, studentID, classID)
}

func (repo *enrollmentRepository) getEnrollment(where string, args ...interface{}) (enrollment.Enrollment, error) {
	var row enrollmentRow
	err := repo.db.Get(&row, fmt.Sprintf(`SELECT %s FROM enrollment %s`, enrollmentColumns, where), args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return enrollment.Enrollment{}, enrollment.ErrNotFound
		}
		return enrollment.Enrollment{}, errors.Wrap(err, "getting enrollment")
	}
	return row.toEnrollment()
}

func (repo *enrollmentRepository) QueryEnrollmentsByStudent(studentID string) ([]enrollment.Enrollment, error) {
	return repo.queryEnrollments(
		fmt.Sprintf(`SELECT %s FROM enrollment WHERE student_id = $1 ORDER BY created_at DESC`, enrollmentColumns),
		studentID,
	)
}

func (repo *enrollmentRepository) QueryEnrollmentsByClass(classID string, statuses ...enrollment.Status) ([]enrollment.Enrollment, error) {
	if len(statuses) == 0 {
		return repo.queryEnrollments(
			fmt.Sprintf(`SELECT %s FROM enrollment WHERE class_id = $1 ORDER BY created_at`, enrollmentColumns),
			classID,
		)
	}
	return repo.queryEnrollments(
		fmt.Sprintf(`SELECT %s FROM enrollment WHERE class_id = $1 AND status = ANY($2) ORDER BY created_at`, enrollmentColumns),
		classID, pq.StringArray(statusValues(statuses)),
	)
}

func (repo *enrollmentRepository) CountClassEnrollments(classID string, statuses ...enrollment.Status) (int, error) {
	var (
		n   int
		err error
	)
	if len(statuses) == 0 {
		err = repo.db.Get(&n, `SELECT count(*) FROM enrollment WHERE class_id = $1`, classID)
	} else {
		err = repo.db.Get(&n,
			`SELECT count(*) FROM enrollment WHERE class_id = $1 AND status = ANY($2)`,
			classID, pq.StringArray(statusValues(statuses)),
		)
	}
	if err != nil {
		return 0, errors.Wrap(err, "counting enrollments")
	}
	return n, nil
}

func statusValues(statuses []enrollment.Status) []string {
	vals := make([]string, 0, len(statuses))
	for _, s := range statuses {
		vals = append(vals, string(s))
	}
	return vals
}

func (repo *enrollmentRepository) UpdateEnrollment(enr enrollment.Enrollment) (enrollment.Enrollment, error) {
	res, err := updateEnrollmentExec(repo.db, enr)
	if err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "updating enrollment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	return enr, nil
}

func updateEnrollmentExec(ex core.DBExecutor, enr enrollment.Enrollment) (sql.Result, error) {
	payments, err := marshalJSONB(enr.PaymentsMade)
	if err != nil {
		return nil, errors.Wrap(err, "encoding payments")
	}
	return ex.Exec(
		`UPDATE enrollment SET status = $1, payment_amount = $2, price_at_enrollment = $3,
			billing_start_date = $4, next_payment_due_date = $5, last_payment_date = $6,
			payments_made = $7, proof_url = $8, expires_at = $9, updated_at = $10
		WHERE id = $11`,
		enr.Status, enr.PaymentAmount, enr.PriceAtEnrollment,
		nullTime(enr.BillingStartDate), nullTime(enr.NextPaymentDueDate), nullTime(enr.LastPaymentDate),
		payments, enr.ProofURL, nullTime(enr.ExpiresAt), enr.UpdatedAt,
		enr.ID,
	)
}

func (repo *enrollmentRepository) UpdateEnrollmentsBilling(enrs []enrollment.Enrollment) error {
	tx, err := repo.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "beginning billing transaction")
	}
	for _, enr := range enrs {
		res, err := updateEnrollmentExec(tx, enr)
		if err == nil {
			var n int64
			if n, err = res.RowsAffected(); err == nil && n == 0 {
				err = enrollment.ErrNotFound
			}
		}
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "updating enrollment %s billing", enr.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "committing billing transaction")
}

func (repo *enrollmentRepository) FilterEnrollments(
	filter enrollment.QueryFilter,
	pageQuery core.PageQuery,
	orderings ...core.DBOrdering,
) ([]enrollment.Enrollment, int, error) {
	var qb queryBuilder
	if filter.StudentID != "" {
		qb.add(`student_id = ?`, filter.StudentID)
	}
	if filter.ClassID != "" {
		qb.add(`class_id = ?`, filter.ClassID)
	}
	if len(filter.Statuses) > 0 {
		qb.add(`status = ANY(?)`, pq.StringArray(statusValues(filter.Statuses)))
	}

	var total int
	if err := repo.db.Get(&total, `SELECT count(*) FROM enrollment`+qb.where(), qb.args...); err != nil {
		return nil, 0, errors.Wrap(err, "counting filtered enrollments")
	}

	orderBy := ` ORDER BY created_at DESC`
	if len(orderings) > 0 {
		parts := make([]string, 0, len(orderings))
		for _, ord := range orderings {
			parts = append(parts, ord.String())
		}
		orderBy = ` ORDER BY ` + strings.Join(parts, ", ")
	}

	limitArgs := append(qb.args, pageQuery.Limit, pageQuery.Offset())
	q := fmt.Sprintf(`SELECT %s FROM enrollment%s%s LIMIT $%d OFFSET $%d`,
		enrollmentColumns, qb.where(), orderBy, len(qb.args)+1, len(qb.args)+2)
	enrs, err := repo.queryEnrollments(q, limitArgs...)
	if err != nil {
		return nil, 0, err
	}
	return enrs, total, nil
}

func (repo *enrollmentRepository) QueryExpiredTrials(asOf time.Time) ([]enrollment.Enrollment, error) {
	return repo.queryEnrollments(
		fmt.Sprintf(`SELECT %s FROM enrollment
			WHERE status = ANY($1) AND expires_at IS NOT NULL AND expires_at < $2
			ORDER BY expires_at`, enrollmentColumns),
		pq.StringArray{string(enrollment.StatusTrial), string(enrollment.StatusTrialProofRejected)}, asOf,
	)
}

func (repo *enrollmentRepository) QueryPastDueEnrollments(asOf time.Time) ([]enrollment.Enrollment, error) {
	return repo.queryEnrollments(
		fmt.Sprintf(`SELECT %s FROM enrollment
			WHERE status = ANY($1) AND next_payment_due_date IS NOT NULL AND next_payment_due_date < $2
			ORDER BY next_payment_due_date`, enrollmentColumns),
		pq.StringArray{string(enrollment.StatusEnrolled), string(enrollment.StatusSuspended)}, asOf,
	)
}

func (repo *enrollmentRepository) queryEnrollments(q string, args ...interface{}) ([]enrollment.Enrollment, error) {
	var rows []enrollmentRow
	if err := repo.db.Select(&rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrs := make([]enrollment.Enrollment, 0, len(rows))
	for _, row := range rows {
		enr, err := row.toEnrollment()
		if err != nil {
			return nil, err
		}
		enrs = append(enrs, enr)
	}
	return enrs, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
