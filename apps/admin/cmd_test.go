package main

import (
	"bytes"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/class"
	"github.com/classnet/backend/core/enrollment"
	"github.com/classnet/backend/core/notification"
	"github.com/classnet/backend/core/user"
	emailsvc "github.com/classnet/backend/services/email"
	logsvc "github.com/classnet/backend/services/logger"
	dummydb "github.com/classnet/backend/storage/database/dummy"
	"github.com/classnet/backend/storage/object"
)

func TestMain(m *testing.M) {
	os.Setenv("ENV", "TEST")
	core.InitConf()
	core.InitValidators()
	user.RegisterValidators()
	os.Exit(m.Run())
}

type testEnv struct {
	cli        *commandLine
	usrRepo    user.Repository
	classSvc   *class.Service
	enrollRepo enrollment.Repository
}

func setup(t *testing.T) *testEnv {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup(): %v", err)
	}
	appLogger := logsvc.NewRollbarLogger(log.New(os.Stdout, "TEST : ", log.LstdFlags), core.Conf)

	usrRepo := dummydb.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo, emailsvc.NewConsoleServiceMock())
	notifSvc := notification.NewService(dummydb.NewNotificationRepository(db), appLogger)
	bridge := &billingBridge{}
	classSvc := class.NewService(dummydb.NewClassRepository(db), bridge, appLogger)
	enrollRepo := dummydb.NewEnrollmentRepository(db)
	enrollSvc := enrollment.NewService(enrollRepo, classSvc, usrSvc, object.NewDummyStorage(), notifSvc, appLogger)
	bridge.svc = enrollSvc

	return &testEnv{
		cli: &commandLine{
			db:        &sqlx.DB{},
			usrRepo:   usrRepo,
			enrollSvc: enrollSvc,
		},
		usrRepo:    usrRepo,
		classSvc:   classSvc,
		enrollRepo: enrollRepo,
	}
}

func createUser(t *testing.T, repo user.Repository, name, uname, email, pwd string) user.User {
	usr := user.User{
		Name:     name,
		Username: uname,
		Email:    email,
		Roles:    user.StudentRoles,
		IsActive: true,
	}
	if err := usr.SetPassword(pwd); err != nil {
		t.Fatalf("SetPassword() failed, %v", err)
	}
	usr, err := repo.CreateUser(usr)
	if err != nil {
		t.Fatalf("CreateUser() failed, %v", err)
	}
	return usr
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func Test_commandLine_migrate(t *testing.T) {
	env := setup(t)

	gooseRunFunc = func(command string, db *sql.DB, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "course", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			if err := env.cli.run(args); err != nil {
				if tt.wantErr != nil {
					if err != tt.wantErr {
						t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
					}
				} else if tt.wantErrStr != "" {
					if err.Error() != tt.wantErrStr {
						t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
					}
				} else {
					t.Errorf("cli.run() unexpected error = %v", err)
				}
			}
		})
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	env := setup(t)

	usr := createUser(t, env.usrRepo, "User", "awe", "awe@test.do", "mdr")

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := env.cli.run(args)
			if err == nil {
				refreshedUsr, err := env.usrRepo.GetUserByID(usr.ID)
				if err != nil {
					t.Fatalf("GetUserByID() failed, %v", err)
				}
				if bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash) {
					t.Error("failed to update new password")
				}
			} else if err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	env := setup(t)

	readPasswordFunc = func(fd int) ([]byte, error) { return []byte("s3cr3t"), nil }

	t.Run("missing email", func(t *testing.T) {
		if err := env.cli.run([]string{"admin", "adduser", "-username", "kim"}); err != errHelp {
			t.Errorf("cli.run() error = %v, wantErr %v", err, errHelp)
		}
	})

	t.Run("creates a student account", func(t *testing.T) {
		if err := env.cli.run([]string{"admin", "adduser", "-name", "Kim", "-username", "Kim", "-email", "Kim@Test.do"}); err != nil {
			t.Fatalf("cli.run() unexpected error = %v", err)
		}
		usr, err := env.usrRepo.GetUserByUsernameOrEmail("kim")
		if err != nil {
			t.Fatalf("GetUserByUsernameOrEmail() failed, %v", err)
		}
		if usr.Email != "kim@test.do" {
			t.Errorf("email = %s; want kim@test.do", usr.Email)
		}
		if !usr.IsActive || !usr.IsVerified {
			t.Errorf("IsActive = %v, IsVerified = %v; want both true", usr.IsActive, usr.IsVerified)
		}
		if len(usr.Roles) != 1 || usr.Roles[0] != user.RoleStudent {
			t.Errorf("roles = %v; want %v", usr.Roles, user.StudentRoles)
		}
		if err := usr.CheckPassword("s3cr3t"); err != nil {
			t.Error("password was not set")
		}
	})

	t.Run("promotes an existing user", func(t *testing.T) {
		existing := createUser(t, env.usrRepo, "Awa", "awa", "awa@test.do", "mdr")

		if err := env.cli.run([]string{"admin", "adduser", "-username", "awa", "-email", "awa@test.do", "-admin"}); err != nil {
			t.Fatalf("cli.run() unexpected error = %v", err)
		}
		usr, err := env.usrRepo.GetUserByID(existing.ID)
		if err != nil {
			t.Fatalf("GetUserByID() failed, %v", err)
		}
		if !usr.IsAdmin() {
			t.Errorf("roles = %v; want admin roles", usr.Roles)
		}
		if err := usr.CheckPassword("s3cr3t"); err != nil {
			t.Error("password was not updated")
		}
	})
}

func Test_commandLine_runBilling(t *testing.T) {
	env := setup(t)

	cls, err := env.classSvc.Create("teacher-1", class.NewClass{
		Subject:       "Spanish",
		StartTime:     "18:00",
		EndTime:       "19:00",
		SelectedDays:  []int{1, 3},
		DurationWeeks: 12,
		Price:         500,
		Currency:      "DOP",
		MaxStudents:   10,
	})
	if err != nil {
		t.Fatalf("Create() failed, %v", err)
	}

	now := time.Now().UTC()
	expiredAt := now.Add(-24 * time.Hour)
	pastDue := now.Add(-core.Conf.PaymentGraceDelta - 24*time.Hour)
	trial, err := env.enrollRepo.CreateEnrollment(enrollment.Enrollment{
		StudentID: "s1", ClassID: cls.ID, Status: enrollment.StatusTrial,
		ExpiresAt: &expiredAt, CreatedAt: now, UpdatedAt: now,
	}, 100)
	if err != nil {
		t.Fatalf("CreateEnrollment() failed, %v", err)
	}
	delinquent, err := env.enrollRepo.CreateEnrollment(enrollment.Enrollment{
		StudentID: "s2", ClassID: cls.ID, Status: enrollment.StatusEnrolled,
		PaymentAmount: 500, NextPaymentDueDate: &pastDue, CreatedAt: now, UpdatedAt: now,
	}, 100)
	if err != nil {
		t.Fatalf("CreateEnrollment() failed, %v", err)
	}

	if err := env.cli.run([]string{"admin", "runbilling"}); err != nil {
		t.Fatalf("cli.run() unexpected error = %v", err)
	}

	enr, _ := env.enrollRepo.GetEnrollmentByID(trial.ID)
	if enr.Status != enrollment.StatusCancelled {
		t.Errorf("trial status = %v; want %v", enr.Status, enrollment.StatusCancelled)
	}
	enr, _ = env.enrollRepo.GetEnrollmentByID(delinquent.ID)
	if enr.Status != enrollment.StatusSuspended {
		t.Errorf("delinquent status = %v; want %v", enr.Status, enrollment.StatusSuspended)
	}
}
