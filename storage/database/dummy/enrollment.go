package dummydb

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/enrollment"
)

type enrollmentRepository struct {
	db *enrollmentTable
}

var _ enrollment.Repository = (*enrollmentRepository)(nil) // interface compliance check

func NewEnrollmentRepository(db *DB) enrollment.Repository {
	return &enrollmentRepository{db: db.enrollment}
}

func (repo *enrollmentRepository) query() []enrollment.Enrollment {
	enrs := make([]enrollment.Enrollment, 0, len(repo.db.table))
	for _, e := range repo.db.table {
		enrs = append(enrs, *e)
	}
	sort.Slice(enrs, func(i, j int) bool { return enrs[i].CreatedAt.After(enrs[j].CreatedAt) })
	return enrs
}

func hasStatus(enr enrollment.Enrollment, statuses []enrollment.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if enr.Status == s {
			return true
		}
	}
	return false
}

// CreateEnrollment holds the write lock across the duplicate and capacity
// checks and the insert, mirroring the class-row lock of the SQL adapter.
func (repo *enrollmentRepository) CreateEnrollment(enr enrollment.Enrollment, maxStudents int) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var seated int
	for _, e := range repo.db.table {
		if e.StudentID == enr.StudentID && e.ClassID == enr.ClassID {
			return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
		}
		if e.ClassID == enr.ClassID && hasStatus(*e, enrollment.CapacityStatuses) {
			seated++
		}
	}
	if seated >= maxStudents {
		return enrollment.Enrollment{}, enrollment.ErrClassFull
	}

	if enr.ID == "" {
		enr.ID = uuid.New().String()
	}
	repo.db.table[enr.ID] = &enr
	return enr, nil
}

func (repo *enrollmentRepository) GetEnrollmentByID(id string) (enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if enr, ok := repo.db.table[id]; ok {
		return *enr, nil
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func (repo *enrollmentRepository) GetEnrollmentByStudentAndClass(studentID, classID string) (enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, enr := range repo.db.table {
		if enr.StudentID == studentID && enr.ClassID == classID {
			return *enr, nil
		}
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func (repo *enrollmentRepository) QueryEnrollmentsByStudent(studentID string) ([]enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var enrs []enrollment.Enrollment
	for _, enr := range repo.query() {
		if enr.StudentID == studentID {
			enrs = append(enrs, enr)
		}
	}
	return enrs, nil
}

func (repo *enrollmentRepository) QueryEnrollmentsByClass(classID string, statuses ...enrollment.Status) ([]enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var enrs []enrollment.Enrollment
	for _, enr := range repo.query() {
		if enr.ClassID == classID && hasStatus(enr, statuses) {
			enrs = append(enrs, enr)
		}
	}
	return enrs, nil
}

func (repo *enrollmentRepository) CountClassEnrollments(classID string, statuses ...enrollment.Status) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var n int
	for _, enr := range repo.db.table {
		if enr.ClassID == classID && hasStatus(*enr, statuses) {
			n++
		}
	}
	return n, nil
}

func (repo *enrollmentRepository) UpdateEnrollment(enr enrollment.Enrollment) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	return repo.update(enr)
}

func (repo *enrollmentRepository) update(enr enrollment.Enrollment) (enrollment.Enrollment, error) {
	orig, ok := repo.db.table[enr.ID]
	if !ok {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	enr.CreatedAt = orig.CreatedAt
	repo.db.table[enr.ID] = &enr
	return enr, nil
}

func (repo *enrollmentRepository) UpdateEnrollmentsBilling(enrs []enrollment.Enrollment) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	// all or nothing
	for _, enr := range enrs {
		if _, ok := repo.db.table[enr.ID]; !ok {
			return enrollment.ErrNotFound
		}
	}
	for _, enr := range enrs {
		if _, err := repo.update(enr); err != nil {
			return err
		}
	}
	return nil
}

func (repo *enrollmentRepository) FilterEnrollments(
	filter enrollment.QueryFilter,
	pageQuery core.PageQuery,
	orderings ...core.DBOrdering,
) ([]enrollment.Enrollment, int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var matched []enrollment.Enrollment
	for _, enr := range repo.query() {
		if filter.StudentID != "" && enr.StudentID != filter.StudentID {
			continue
		}
		if filter.ClassID != "" && enr.ClassID != filter.ClassID {
			continue
		}
		if !hasStatus(enr, filter.Statuses) {
			continue
		}
		matched = append(matched, enr)
	}
	total := len(matched)

	if len(orderings) > 0 && orderings[0].Field == "created_at" && orderings[0].Ascending {
		sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	}

	start := pageQuery.Offset()
	if start >= total {
		return []enrollment.Enrollment{}, total, nil
	}
	end := start + pageQuery.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (repo *enrollmentRepository) QueryExpiredTrials(asOf time.Time) ([]enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	trialStatuses := []enrollment.Status{enrollment.StatusTrial, enrollment.StatusTrialProofRejected}
	var enrs []enrollment.Enrollment
	for _, enr := range repo.query() {
		if hasStatus(enr, trialStatuses) && enr.ExpiresAt != nil && enr.ExpiresAt.Before(asOf) {
			enrs = append(enrs, enr)
		}
	}
	return enrs, nil
}

func (repo *enrollmentRepository) QueryPastDueEnrollments(asOf time.Time) ([]enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	billedStatuses := []enrollment.Status{enrollment.StatusEnrolled, enrollment.StatusSuspended}
	var enrs []enrollment.Enrollment
	for _, enr := range repo.query() {
		if hasStatus(enr, billedStatuses) && enr.NextPaymentDueDate != nil && enr.NextPaymentDueDate.Before(asOf) {
			enrs = append(enrs, enr)
		}
	}
	return enrs, nil
}
