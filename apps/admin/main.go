package main

import (
	"log"
	"os"
	"time"

	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/class"
	"github.com/classnet/backend/core/enrollment"
	"github.com/classnet/backend/core/notification"
	"github.com/classnet/backend/core/user"
	emailsvc "github.com/classnet/backend/services/email"
	logsvc "github.com/classnet/backend/services/logger"
	"github.com/classnet/backend/storage/database"
	sqlxrepos "github.com/classnet/backend/storage/database/sqlx"
	"github.com/classnet/backend/storage/object"
)

var logger *log.Logger

type billingBridge struct {
	svc *enrollment.Service
}

func (b *billingBridge) StartClassBilling(classID string, startDate time.Time) error {
	return b.svc.StartClassBilling(classID, startDate)
}

func main() {
	defer os.Exit(0)

	core.InitConf()
	core.InitValidators()
	user.RegisterValidators()

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	appLogger := logsvc.NewRollbarLogger(logger, core.Conf)
	appLogger.Enable(!(core.Conf.Debug || core.Conf.TestMode))

	// set up DB
	db, err := database.Open(core.Conf)
	errAndDie(err)
	defer func() { _ = db.Close() }()
	errAndDie(db.Ping())

	// set up services
	var mailSvc core.EmailService
	if core.Conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(appLogger)
	}
	var storage core.FileStorage
	if core.Conf.ObjectStorage.Endpoint != "" {
		storage, err = object.NewOSSStorage(core.Conf.ObjectStorage)
		errAndDie(err)
	} else {
		storage = object.NewDummyStorage()
	}

	usrRepo := sqlxrepos.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo, mailSvc)
	notifSvc := notification.NewService(sqlxrepos.NewNotificationRepository(db), appLogger)
	bridge := &billingBridge{}
	classSvc := class.NewService(sqlxrepos.NewClassRepository(db), bridge, appLogger)
	enrollSvc := enrollment.NewService(
		sqlxrepos.NewEnrollmentRepository(db), classSvc, usrSvc, storage, notifSvc, appLogger)
	bridge.svc = enrollSvc

	// start CLI
	cli := commandLine{
		db:        db,
		usrRepo:   usrRepo,
		enrollSvc: enrollSvc,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
