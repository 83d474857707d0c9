package sqlxrepos

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"

	"github.com/classnet/backend/core/notification"
)

type notificationRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	Title     string         `db:"title"`
	Message   string         `db:"message"`
	Link      string         `db:"link"`
	Metadata  types.JSONText `db:"metadata"`
	Read      bool           `db:"read"`
	ExpiresAt sql.NullTime   `db:"expires_at"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r notificationRow) toNotification() (notification.Notification, error) {
	notif := notification.Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		Title:     r.Title,
		Message:   r.Message,
		Link:      r.Link,
		Read:      r.Read,
		CreatedAt: r.CreatedAt,
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		notif.ExpiresAt = &t
	}
	if err := unmarshalJSONB(r.Metadata, &notif.Metadata); err != nil {
		return notification.Notification{}, errors.Wrap(err, "decoding metadata")
	}
	return notif, nil
}

const notificationColumns = `id, user_id, title, message, link, metadata, read, expires_at, created_at`

type notificationRepository struct {
	db *sqlx.DB
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *sqlx.DB) *notificationRepository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateNotification(notif notification.Notification) (notification.Notification, error) {
	if notif.ID == "" {
		notif.ID = uuid.New().String()
	}
	metadata, err := marshalJSONB(notif.Metadata)
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "encoding metadata")
	}
	_, err = repo.db.Exec(
		`INSERT INTO notification (id, user_id, title, message, link, metadata, read, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		notif.ID, notif.UserID, notif.Title, notif.Message, notif.Link, metadata,
		notif.Read, nullTime(notif.ExpiresAt), notif.CreatedAt,
	)
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "creating notification")
	}
	return notif, nil
}

func (repo *notificationRepository) GetNotificationByID(id string) (notification.Notification, error) {
	var row notificationRow
	err := repo.db.Get(&row, fmt.Sprintf(`SELECT %s FROM notification WHERE id = $1`, notificationColumns), id)
	if err != nil {
		if err == sql.ErrNoRows {
			return notification.Notification{}, notification.ErrNotFound
		}
		return notification.Notification{}, errors.Wrap(err, "getting notification")
	}
	return row.toNotification()
}

func (repo *notificationRepository) QueryNotificationsByUser(userID string) ([]notification.Notification, error) {
	var rows []notificationRow
	err := repo.db.Select(&rows,
		fmt.Sprintf(`SELECT %s FROM notification
			WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > now())
			ORDER BY created_at DESC`, notificationColumns),
		userID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	notifs := make([]notification.Notification, 0, len(rows))
	for _, row := range rows {
		notif, err := row.toNotification()
		if err != nil {
			return nil, err
		}
		notifs = append(notifs, notif)
	}
	return notifs, nil
}

func (repo *notificationRepository) MarkNotificationRead(id, userID string) error {
	res, err := repo.db.Exec(`UPDATE notification SET read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return errors.Wrap(err, "marking notification read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (repo *notificationRepository) MarkAllNotificationsRead(userID string) error {
	_, err := repo.db.Exec(`UPDATE notification SET read = true WHERE user_id = $1 AND read = false`, userID)
	return errors.Wrap(err, "marking notifications read")
}
