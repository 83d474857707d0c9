package notification

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/classnet/backend/core"
)

var (
	// errors
	ErrNotFound = errors.New("notification not found")
)

type (
	Repository interface {
		CreateNotification(notif Notification) (Notification, error)
		GetNotificationByID(id string) (Notification, error)
		QueryNotificationsByUser(userID string) ([]Notification, error)
		MarkNotificationRead(id, userID string) error
		MarkAllNotificationsRead(userID string) error
	}

	Service struct {
		repo   Repository
		logger core.Logger
	}
)

func NewService(repo Repository, logger core.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Emit persists one notification per addressed user. Each insert is
// independently fallible: a failed insert is logged and skipped, and never
// rolls back the mutation that triggered it.
func (svc *Service) Emit(userIDs []string, title, message, link string) {
	now := time.Now().UTC()
	for _, uid := range userIDs {
		_, err := svc.repo.CreateNotification(Notification{
			UserID:    uid,
			Title:     title,
			Message:   message,
			Link:      link,
			CreatedAt: now,
		})
		if err != nil {
			svc.logger.Error(fmt.Sprintf("emitting notification to user %s: %v", uid, err), err)
		}
	}
}

func (svc *Service) QueryByUser(userID string) ([]Notification, error) {
	return svc.repo.QueryNotificationsByUser(userID)
}

func (svc *Service) MarkRead(id, userID string) error {
	return svc.repo.MarkNotificationRead(id, userID)
}

func (svc *Service) MarkAllRead(userID string) error {
	return svc.repo.MarkAllNotificationsRead(userID)
}
