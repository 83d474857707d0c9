package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	echoapi "github.com/classnet/backend/apps/api/echo"
	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/assignment"
	"github.com/classnet/backend/core/class"
	"github.com/classnet/backend/core/enrollment"
	"github.com/classnet/backend/core/notification"
	"github.com/classnet/backend/core/user"
	emailsvc "github.com/classnet/backend/services/email"
	logsvc "github.com/classnet/backend/services/logger"
	sessionsvc "github.com/classnet/backend/services/session"
	"github.com/classnet/backend/storage/database"
	sqlxrepos "github.com/classnet/backend/storage/database/sqlx"
	"github.com/classnet/backend/storage/object"
)

// billingBridge breaks the class <-> enrollment construction cycle: the class
// service needs a BillingStarter before the enrollment service exists.
type billingBridge struct {
	svc *enrollment.Service
}

func (b *billingBridge) StartClassBilling(classID string, startDate time.Time) error {
	return b.svc.StartClassBilling(classID, startDate)
}

func main() {
	core.InitConf()
	core.InitValidators()
	user.RegisterValidators()

	std := log.New(os.Stdout, core.Conf.AppName+" : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(std, core.Conf)
	logger.Enable(!(core.Conf.Debug || core.Conf.TestMode))

	// set up DB
	if core.Conf.Debug {
		errAndDie(logger, database.CreateIfNotExist(core.Conf))
	}
	db, err := database.Open(core.Conf)
	errAndDie(logger, err)
	defer func() { _ = db.Close() }()
	errAndDie(logger, database.Migrate(db))

	// set up services
	var mailSvc core.EmailService
	if core.Conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}
	var storage core.FileStorage
	if core.Conf.ObjectStorage.Endpoint != "" {
		storage, err = object.NewOSSStorage(core.Conf.ObjectStorage)
		errAndDie(logger, err)
	} else {
		storage = object.NewDummyStorage()
	}
	sessions := sessionsvc.NewStore(core.Conf.Redis, core.Conf.Server.JWTRefreshExpirationDelta)

	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc)
	notifSvc := notification.NewService(sqlxrepos.NewNotificationRepository(db), logger)
	bridge := &billingBridge{}
	classSvc := class.NewService(sqlxrepos.NewClassRepository(db), bridge, logger)
	enrollSvc := enrollment.NewService(
		sqlxrepos.NewEnrollmentRepository(db), classSvc, usrSvc, storage, notifSvc, logger)
	bridge.svc = enrollSvc
	subSvc := assignment.NewService(sqlxrepos.NewAssignmentRepository(db), classSvc, notifSvc)

	// start API server
	app := echoapi.NewServer(
		&echoapi.Options{
			Address:         core.Conf.Server.Address(),
			Logger:          logger,
			UserSvc:         usrSvc,
			ClassSvc:        classSvc,
			EnrollmentSvc:   enrollSvc,
			AssignmentSvc:   subSvc,
			NotificationSvc: notifSvc,
			Storage:         storage,
			Sessions:        sessions,
		},
	)

	serverErrors := make(chan error, 1)
	go func() { serverErrors <- app.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		errAndDie(logger, err)
	case <-app.Shutdown():
		logger.Error("unrecoverable error, shutting down")
		stop(logger, app)
		os.Exit(1)
	case sig := <-quit:
		std.Printf("caught %v, shutting down", sig)
		stop(logger, app)
	}
}

func stop(logger core.Logger, app echoapi.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		logger.Error("graceful shutdown failed", err)
	}
}

func errAndDie(logger core.Logger, err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
