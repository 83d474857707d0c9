package dummydb

import (
	"sort"

	"github.com/google/uuid"

	"github.com/classnet/backend/core/assignment"
)

type assignmentRepository struct {
	db *assignmentTable
}

var _ assignment.Repository = (*assignmentRepository)(nil) // interface compliance check

func NewAssignmentRepository(db *DB) assignment.Repository {
	return &assignmentRepository{db: db.assignment}
}

func (repo *assignmentRepository) GetSubmissionByID(id string) (assignment.SubmittedAssignment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sub, ok := repo.db.table[id]; ok {
		return copySubmission(*sub), nil
	}
	return assignment.SubmittedAssignment{}, assignment.ErrNotFound
}

func (repo *assignmentRepository) GetSubmissionByKey(classID, studentID string, weekNumber int) (assignment.SubmittedAssignment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, sub := range repo.db.table {
		if sub.ClassID == classID && sub.StudentID == studentID && sub.WeekNumber == weekNumber {
			return copySubmission(*sub), nil
		}
	}
	return assignment.SubmittedAssignment{}, assignment.ErrNotFound
}

func (repo *assignmentRepository) CreateSubmission(sub assignment.SubmittedAssignment) (assignment.SubmittedAssignment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	stored := copySubmission(sub)
	repo.db.table[sub.ID] = &stored
	return sub, nil
}

func (repo *assignmentRepository) UpdateSubmission(sub assignment.SubmittedAssignment) (assignment.SubmittedAssignment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[sub.ID]
	if !ok {
		return assignment.SubmittedAssignment{}, assignment.ErrNotFound
	}
	sub.CreatedAt = orig.CreatedAt
	stored := copySubmission(sub)
	repo.db.table[sub.ID] = &stored
	return sub, nil
}

func (repo *assignmentRepository) QuerySubmissionsByStudent(classID, studentID string) ([]assignment.SubmittedAssignment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var subs []assignment.SubmittedAssignment
	for _, sub := range repo.db.table {
		if sub.ClassID == classID && sub.StudentID == studentID {
			subs = append(subs, copySubmission(*sub))
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].WeekNumber < subs[j].WeekNumber })
	return subs, nil
}

func (repo *assignmentRepository) QuerySubmissionsByClassWeek(classID string, weekNumber int) ([]assignment.SubmittedAssignment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var subs []assignment.SubmittedAssignment
	for _, sub := range repo.db.table {
		if sub.ClassID == classID && sub.WeekNumber == weekNumber {
			subs = append(subs, copySubmission(*sub))
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	return subs, nil
}

// copySubmission clones the Days map so callers cannot mutate stored state.
func copySubmission(sub assignment.SubmittedAssignment) assignment.SubmittedAssignment {
	days := make(map[int]assignment.DayWork, len(sub.Days))
	for day, work := range sub.Days {
		days[day] = work
	}
	sub.Days = days
	return sub
}
