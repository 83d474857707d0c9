package dummydb

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/classnet/backend/core/class"
)

type classRepository struct {
	db *classTable
}

var _ class.Repository = (*classRepository)(nil) // interface compliance check

func NewClassRepository(db *DB) class.Repository {
	return &classRepository{db: db.class}
}

func (repo *classRepository) query() []class.Class {
	classes := make([]class.Class, 0, len(repo.db.table))
	for _, c := range repo.db.table {
		classes = append(classes, *c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].CreatedAt.After(classes[j].CreatedAt) })
	return classes
}

func (repo *classRepository) CreateClass(cls class.Class) (class.Class, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if cls.ID == "" {
		cls.ID = uuid.New().String()
	}
	repo.db.table[cls.ID] = &cls
	return cls, nil
}

func (repo *classRepository) GetClassByID(id string) (class.Class, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if cls, ok := repo.db.table[id]; ok {
		return *cls, nil
	}
	return class.Class{}, class.ErrNotFound
}

func (repo *classRepository) QueryClassesByTeacher(teacherID string) ([]class.Class, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var classes []class.Class
	for _, cls := range repo.query() {
		if cls.TeacherID == teacherID {
			classes = append(classes, cls)
		}
	}
	return classes, nil
}

func (repo *classRepository) QueryClassesByStatus(status class.Status) ([]class.Class, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var classes []class.Class
	for _, cls := range repo.query() {
		if cls.Status == status {
			classes = append(classes, cls)
		}
	}
	return classes, nil
}

func (repo *classRepository) UpdateClass(cls class.Class) (class.Class, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[cls.ID]
	if !ok {
		return class.Class{}, class.ErrNotFound
	}
	cls.Status = orig.Status
	cls.StartDate = orig.StartDate
	cls.CreatedAt = orig.CreatedAt
	repo.db.table[cls.ID] = &cls
	return cls, nil
}

func (repo *classRepository) TransitionClassStatus(id string, from, to class.Status, startDate *time.Time) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	cls, ok := repo.db.table[id]
	if !ok || cls.Status != from {
		return false, nil
	}
	cls.Status = to
	if startDate != nil {
		cls.StartDate = startDate
	}
	cls.UpdatedAt = time.Now().UTC()
	return true, nil
}

func weekContentKey(classID string, weekNumber int) string {
	return fmt.Sprintf("%s:%d", classID, weekNumber)
}

func (repo *classRepository) UpsertWeekContent(wc class.WeekContent) (class.WeekContent, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	now := time.Now().UTC()
	key := weekContentKey(wc.ClassID, wc.WeekNumber)
	if orig, ok := repo.db.weekContent[key]; ok {
		wc.ID = orig.ID
		wc.CreatedAt = orig.CreatedAt
	} else {
		if wc.ID == "" {
			wc.ID = uuid.New().String()
		}
		wc.CreatedAt = now
	}
	wc.UpdatedAt = now
	repo.db.weekContent[key] = &wc
	return wc, nil
}

func (repo *classRepository) GetWeekContent(classID string, weekNumber int) (class.WeekContent, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if wc, ok := repo.db.weekContent[weekContentKey(classID, weekNumber)]; ok {
		return *wc, nil
	}
	return class.WeekContent{}, class.ErrNotFound
}

func (repo *classRepository) QueryWeekContentByClass(classID string) ([]class.WeekContent, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var contents []class.WeekContent
	for _, wc := range repo.db.weekContent {
		if wc.ClassID == classID {
			contents = append(contents, *wc)
		}
	}
	sort.Slice(contents, func(i, j int) bool { return contents[i].WeekNumber < contents[j].WeekNumber })
	return contents, nil
}
