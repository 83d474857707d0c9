package sqlxrepos

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/user"
)

type userRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Username     string         `db:"username"`
	Email        string         `db:"email"`
	Phone        string         `db:"phone"`
	PhotoURL     string         `db:"photo_url"`
	IsActive     bool           `db:"is_active"`
	IsVerified   bool           `db:"is_verified"`
	HasUsedTrial bool           `db:"has_used_trial"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    sql.NullTime   `db:"last_login"`
}

func (r userRow) toUser() user.User {
	usr := user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username,
		Email:        r.Email,
		Phone:        r.Phone,
		PhotoURL:     r.PhotoURL,
		IsActive:     r.IsActive,
		IsVerified:   r.IsVerified,
		HasUsedTrial: r.HasUsedTrial,
		Roles:        r.Roles,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastLogin.Valid {
		usr.LastLogin = r.LastLogin.Time
	}
	return usr
}

const userColumns = `id, name, username, email, phone, photo_url, is_active, is_verified,
	has_used_trial, roles, password_hash, created_at, updated_at, last_login`

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckUsernameUniqueness(username, email string, excludedUsers ...user.User) error {
	exclIDs := make([]string, 0, len(excludedUsers))
	for _, usr := range excludedUsers {
		exclIDs = append(exclIDs, usr.ID)
	}

	q := `SELECT username, email FROM "user"
		WHERE ((username = ? AND ? <> '') OR (email = ? AND ? <> ''))`
	args := []interface{}{username, username, email, email}
	if len(exclIDs) > 0 {
		q += ` AND id NOT IN (?)`
		var err error
		q, args, err = sqlx.In(q, username, username, email, email, exclIDs)
		if err != nil {
			return errors.Wrap(err, "building uniqueness query")
		}
	}
	q = repo.db.Rebind(q)

	rows, err := repo.db.Queryx(q, args...)
	if err != nil {
		return errors.Wrap(err, "checking uniqueness")
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var uname, mail string
		if err = rows.Scan(&uname, &mail); err != nil {
			return errors.Wrap(err, "checking uniqueness")
		}
		if username != "" && uname == username {
			return user.ErrUsernameExists
		}
		if email != "" && mail == email {
			return user.ErrEmailExists
		}
	}
	return errors.Wrap(rows.Err(), "checking uniqueness")
}

func (repo *userRepository) CreateUser(usr user.User) (user.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.New().String()
	}
	_, err := repo.db.Exec(
		`INSERT INTO "user" (id, name, username, email, phone, photo_url, is_active, is_verified,
			has_used_trial, roles, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		usr.ID, usr.Name, usr.Username, usr.Email, usr.Phone, usr.PhotoURL, usr.IsActive,
		usr.IsVerified, usr.HasUsedTrial, pq.StringArray(usr.Roles), usr.PasswordHash,
		usr.CreatedAt, usr.UpdatedAt,
	)
	if err != nil {
		return user.User{}, errors.Wrap(err, "creating user")
	}
	return usr, nil
}

func (repo *userRepository) QueryAllUsers() ([]user.User, error) {
	return repo.queryUsers(fmt.Sprintf(`SELECT %s FROM "user" ORDER BY created_at DESC`, userColumns))
}

func (repo *userRepository) GetUserByID(id string) (user.User, error) {
	return repo.getUser(`WHERE id = $1`, id)
}

func (repo *userRepository) GetUserByUsername(username string) (user.User, error) {
	return repo.getUser(`WHERE username = $1`, username)
}

func (repo *userRepository) GetUserByEmail(email string) (user.User, error) {
	return repo.getUser(`WHERE email = $1`, email)
}

func (repo *userRepository) GetUserByUsernameOrEmail(username string) (user.User, error) {
	return repo.getUser(`WHERE username = $1 OR email = $1`, username)
}

func (repo *userRepository) getUser(where string, args ...interface{}) (user.User, error) {
	var row userRow
	err := repo.db.Get(&row, fmt.Sprintf(`SELECT %s FROM "user" %s`, userColumns, where), args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) FilterUsers(filter user.QueryFilter, orderings ...core.DBOrdering) ([]user.User, error) {
	var qb queryBuilder
	if filter.Search != "" {
		term := "%" + filter.Search + "%"
		qb.add(`(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)`, term, term, term)
	}
	if filter.IsActive != nil {
		qb.add(`is_active = ?`, *filter.IsActive)
	}
	if !filter.CreatedFrom.IsZero() {
		qb.add(`created_at >= ?`, filter.CreatedFrom)
	}
	if !filter.CreatedTo.IsZero() {
		qb.add(`created_at <= ?`, filter.CreatedTo)
	}
	if filter.Roles != nil {
		qb.add(`roles && ?`, pq.StringArray(filter.Roles))
	}

	orderBy := ` ORDER BY created_at DESC`
	if len(orderings) > 0 {
		parts := make([]string, 0, len(orderings))
		for _, ord := range orderings {
			parts = append(parts, ord.String())
		}
		orderBy = ` ORDER BY ` + strings.Join(parts, ", ")
	}

	q := fmt.Sprintf(`SELECT %s FROM "user"%s%s`, userColumns, qb.where(), orderBy)
	return repo.queryUsers(q, qb.args...)
}

func (repo *userRepository) queryUsers(q string, args ...interface{}) ([]user.User, error) {
	var rows []userRow
	if err := repo.db.Select(&rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(usr user.User, isActive *bool) (user.User, error) {
	var qb queryBuilder
	if usr.Name != "" {
		qb.add(`name = ?`, usr.Name)
	}
	if usr.Username != "" {
		qb.add(`username = ?`, usr.Username)
	}
	if usr.Email != "" {
		qb.add(`email = ?`, usr.Email)
	}
	if usr.Phone != "" {
		qb.add(`phone = ?`, usr.Phone)
	}
	if usr.PhotoURL != "" {
		qb.add(`photo_url = ?`, usr.PhotoURL)
	}
	if usr.Roles != nil {
		qb.add(`roles = ?`, pq.StringArray(usr.Roles))
	}
	if len(usr.PasswordHash) > 0 {
		qb.add(`password_hash = ?`, usr.PasswordHash)
	}
	if usr.IsVerified {
		qb.add(`is_verified = true`)
	}
	if !usr.LastLogin.IsZero() {
		qb.add(`last_login = ?`, usr.LastLogin)
	}
	if isActive != nil {
		qb.add(`is_active = ?`, *isActive)
	}
	updatedAt := usr.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	qb.add(`updated_at = ?`, updatedAt)

	q := fmt.Sprintf(`UPDATE "user" SET %s WHERE id = $%d`, strings.Join(qb.clauses, ", "), len(qb.args)+1)
	res, err := repo.db.Exec(q, append(qb.args, usr.ID)...)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUserByID(usr.ID)
}

func (repo *userRepository) SetUserTrialUsed(id string) error {
	res, err := repo.db.Exec(`UPDATE "user" SET has_used_trial = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "setting trial used")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (repo *userRepository) DeleteUsersByID(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`DELETE FROM "user" WHERE id IN (?)`, ids)
	if err != nil {
		return errors.Wrap(err, "building delete query")
	}
	_, err = repo.db.Exec(repo.db.Rebind(q), args...)
	return errors.Wrap(err, "deleting users")
}
