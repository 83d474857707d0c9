package user

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/classnet/backend/core"
)

var (
	// errors
	ErrNotFound       = errors.New("user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
)

type (
	Repository interface {
		CheckUsernameUniqueness(username, email string, excludedUsers ...User) error
		CreateUser(usr User) (User, error)
		QueryAllUsers() ([]User, error)
		GetUserByID(id string) (User, error)
		GetUserByUsername(username string) (User, error)
		GetUserByEmail(email string) (User, error)
		GetUserByUsernameOrEmail(username string) (User, error)
		// FilterUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		FilterUsers(filter QueryFilter, orderings ...core.DBOrdering) ([]User, error)
		UpdateUser(usr User, isActive *bool) (User, error)
		SetUserTrialUsed(id string) error
		DeleteUsersByID(ids ...string) error
	}

	Service struct {
		repo    Repository
		mailSvc core.EmailService
	}
)

func NewService(repo Repository, mailSvc core.EmailService) *Service {
	return &Service{repo: repo, mailSvc: mailSvc}
}

func (svc *Service) checkUniqueness(uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(uname, email, exclUsers...); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *Service) Create(nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		Phone:     nu.Phone,
		IsActive:  true,
		Roles:     nu.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}

	usr, err := svc.repo.CreateUser(usr)
	if err != nil {
		return User{}, err
	}
	svc.RequestEmailVerification(usr)
	return usr, nil
}

// CreateFromOAuth registers a student from a verified external identity.
// The account gets an unusable random password and a pre-verified email.
func (svc *Service) CreateFromOAuth(name, email string) (User, error) {
	email = core.CleanString(email, true /* lower */)
	uname := email
	if i := strings.Index(email, "@"); i > 0 {
		uname = email[:i]
	}
	if err := svc.repo.CheckUsernameUniqueness(uname, email); err != nil {
		if err != ErrUsernameExists {
			return User{}, err
		}
		// local part already taken, fall back to the full address
		uname = email
	}

	now := time.Now().UTC()
	usr := User{
		Name:       name,
		Username:   uname,
		Email:      email,
		IsActive:   true,
		IsVerified: true,
		Roles:      []string{RoleStudent},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := usr.SetPassword(uuid.New().String()); err != nil {
		return User{}, err
	}
	return svc.repo.CreateUser(usr)
}

func (svc *Service) QueryAll() ([]User, error) {
	return svc.repo.QueryAllUsers()
}

func (svc *Service) GetByID(id string) (User, error) {
	return svc.repo.GetUserByID(id)
}

func (svc *Service) GetByUsername(uname string) (User, error) {
	return svc.repo.GetUserByUsername(core.CleanString(uname, true /* lower */))
}

func (svc *Service) GetByEmail(email string) (User, error) {
	return svc.repo.GetUserByEmail(core.CleanString(email, true /* lower */))
}

func (svc *Service) GetByUsernameOrEmail(uname string) (User, error) {
	return svc.repo.GetUserByUsernameOrEmail(core.CleanString(uname, true /* lower */))
}

func (svc *Service) Filter(filter QueryFilter, orderings ...core.DBOrdering) ([]User, error) {
	return svc.repo.FilterUsers(filter, orderings...)
}

func (svc *Service) Update(id string, uu UpdateUser) (User, error) {
	usr := User{
		ID:        id,
		Name:      uu.Name,
		Username:  uu.Username,
		Email:     uu.Email,
		Phone:     uu.Phone,
		PhotoURL:  uu.PhotoURL,
		Roles:     uu.Roles,
		UpdatedAt: time.Now().UTC(),
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, err
		}
	}
	return svc.repo.UpdateUser(usr, uu.IsActive)
}

func (svc *Service) SetLastLogin(usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	return svc.repo.UpdateUser(usr, nil)
}

func (svc *Service) SetPhotoURL(usr User, url string) (User, error) {
	usr.PhotoURL = url
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(usr, nil)
}

// MarkTrialUsed flags the user as having consumed their one trial enrollment.
func (svc *Service) MarkTrialUsed(id string) error {
	return svc.repo.SetUserTrialUsed(id)
}

func (svc *Service) Delete(ids ...string) error {
	return svc.repo.DeleteUsersByID(ids...)
}

// RequestPasswordReset emails the user a password reset link.
func (svc *Service) RequestPasswordReset(email string) error {
	usr, err := svc.GetByEmail(email)
	if err != nil {
		return err
	}
	token := makeToken(usr, purposePasswordReset)
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password-reset",
		TemplateData: struct {
			Username, UID, Token string
		}{usr.Username, EncodeUID(usr), token},
	})
	return nil
}

func (svc *Service) ResetPassword(rp ResetUserPassword) error {
	id, err := decodeUID(rp.UID)
	if err != nil {
		return errInvalidToken
	}
	usr, err := svc.GetByID(id)
	if err != nil {
		return err
	}
	if err = verifyToken(usr, rp.Token, purposePasswordReset); err != nil {
		return core.NewValidationError(err)
	}
	if err = usr.SetPassword(rp.Password); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateUser(usr, nil)
	return err
}

// RequestEmailVerification emails the user a verification link. Fire-and-forget.
func (svc *Service) RequestEmailVerification(usr User) {
	if usr.IsVerified {
		return
	}
	token := makeToken(usr, purposeEmailVerification)
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Verify your email address",
		TemplateName: "email-verification",
		TemplateData: struct {
			Username, UID, Token string
		}{usr.Username, EncodeUID(usr), token},
	})
}

func (svc *Service) VerifyEmail(ve VerifyUserEmail) (User, error) {
	id, err := decodeUID(ve.UID)
	if err != nil {
		return User{}, errInvalidToken
	}
	usr, err := svc.GetByID(id)
	if err != nil {
		return User{}, err
	}
	if err = verifyToken(usr, ve.Token, purposeEmailVerification); err != nil {
		return User{}, core.NewValidationError(err)
	}
	usr.IsVerified = true
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(usr, nil)
}
