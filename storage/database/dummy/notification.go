package dummydb

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/classnet/backend/core/notification"
)

type notificationRepository struct {
	db *notificationTable
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{db: db.notification}
}

func (repo *notificationRepository) CreateNotification(notif notification.Notification) (notification.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if notif.ID == "" {
		notif.ID = uuid.New().String()
	}
	repo.db.table[notif.ID] = &notif
	return notif, nil
}

func (repo *notificationRepository) GetNotificationByID(id string) (notification.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if notif, ok := repo.db.table[id]; ok {
		return *notif, nil
	}
	return notification.Notification{}, notification.ErrNotFound
}

func (repo *notificationRepository) QueryNotificationsByUser(userID string) ([]notification.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	now := time.Now().UTC()
	var notifs []notification.Notification
	for _, notif := range repo.db.table {
		if notif.UserID != userID {
			continue
		}
		if notif.ExpiresAt != nil && !notif.ExpiresAt.After(now) {
			continue
		}
		notifs = append(notifs, *notif)
	}
	sort.Slice(notifs, func(i, j int) bool { return notifs[i].CreatedAt.After(notifs[j].CreatedAt) })
	return notifs, nil
}

func (repo *notificationRepository) MarkNotificationRead(id, userID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	notif, ok := repo.db.table[id]
	if !ok || notif.UserID != userID {
		return notification.ErrNotFound
	}
	notif.Read = true
	return nil
}

func (repo *notificationRepository) MarkAllNotificationsRead(userID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, notif := range repo.db.table {
		if notif.UserID == userID {
			notif.Read = true
		}
	}
	return nil
}
