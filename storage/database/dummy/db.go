package dummydb

import (
	"sync"

	"github.com/classnet/backend/core/assignment"
	"github.com/classnet/backend/core/class"
	"github.com/classnet/backend/core/enrollment"
	"github.com/classnet/backend/core/notification"
	"github.com/classnet/backend/core/user"
)

type (
	DB struct {
		user         *userTable
		class        *classTable
		enrollment   *enrollmentTable
		assignment   *assignmentTable
		notification *notificationTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	classTable struct {
		sync.RWMutex
		table       map[string]*class.Class
		weekContent map[string]*class.WeekContent
	}

	enrollmentTable struct {
		sync.RWMutex
		table map[string]*enrollment.Enrollment
	}

	assignmentTable struct {
		sync.RWMutex
		table map[string]*assignment.SubmittedAssignment
	}

	notificationTable struct {
		sync.RWMutex
		table map[string]*notification.Notification
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:         &userTable{table: make(map[string]*user.User)},
		class:        &classTable{table: make(map[string]*class.Class), weekContent: make(map[string]*class.WeekContent)},
		enrollment:   &enrollmentTable{table: make(map[string]*enrollment.Enrollment)},
		assignment:   &assignmentTable{table: make(map[string]*assignment.SubmittedAssignment)},
		notification: &notificationTable{table: make(map[string]*notification.Notification)},
	}
	return db, nil
}
