package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	. "github.com/classnet/backend/apps/api/echo"
	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/assignment"
	"github.com/classnet/backend/core/class"
	"github.com/classnet/backend/core/enrollment"
	"github.com/classnet/backend/core/notification"
	"github.com/classnet/backend/core/user"
	emailsvc "github.com/classnet/backend/services/email"
	logsvc "github.com/classnet/backend/services/logger"
	dummydb "github.com/classnet/backend/storage/database/dummy"
	"github.com/classnet/backend/storage/object"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

// testEnv is a complete application wired over in-memory adapters. Each test
// gets a fresh one so tests cannot leak state into each other.
type testEnv struct {
	app     Server
	storage *object.DummyStorage

	usrRepo    user.Repository
	classRepo  class.Repository
	enrollRepo enrollment.Repository
	subRepo    assignment.Repository
	notifRepo  notification.Repository

	usrSvc    *user.Service
	classSvc  *class.Service
	enrollSvc *enrollment.Service
	subSvc    *assignment.Service
	notifSvc  *notification.Service
}

// billingBridge breaks the class <-> enrollment construction cycle.
type billingBridge struct {
	svc *enrollment.Service
}

func (b *billingBridge) StartClassBilling(classID string, startDate time.Time) error {
	return b.svc.StartClassBilling(classID, startDate)
}

func setup(t *testing.T) *testEnv {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup(): %v", err)
	}

	env := &testEnv{
		storage:    object.NewDummyStorage(),
		usrRepo:    dummydb.NewUserRepository(db),
		classRepo:  dummydb.NewClassRepository(db),
		enrollRepo: dummydb.NewEnrollmentRepository(db),
		subRepo:    dummydb.NewAssignmentRepository(db),
		notifRepo:  dummydb.NewNotificationRepository(db),
	}

	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "TEST : ", log.LstdFlags), core.Conf)
	mailSvc := emailsvc.NewConsoleServiceMock()

	env.notifSvc = notification.NewService(env.notifRepo, logger)
	env.usrSvc = user.NewService(env.usrRepo, mailSvc)
	bridge := new(billingBridge)
	env.classSvc = class.NewService(env.classRepo, bridge, logger)
	env.enrollSvc = enrollment.NewService(env.enrollRepo, env.classSvc, env.usrSvc, env.storage, env.notifSvc, logger)
	bridge.svc = env.enrollSvc
	env.subSvc = assignment.NewService(env.subRepo, env.classSvc, env.notifSvc)

	env.app = NewServer(&Options{
		DisableReqLogs:  true,
		Logger:          logger,
		UserSvc:         env.usrSvc,
		ClassSvc:        env.classSvc,
		EnrollmentSvc:   env.enrollSvc,
		AssignmentSvc:   env.subSvc,
		NotificationSvc: env.notifSvc,
		Storage:         env.storage,
	})
	return env
}

func createUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser(): %v", err)
		}
	}
	usr, err := repo.CreateUser(usr)
	if err != nil {
		t.Fatalf("createUser(): %v", err)
	}
	return usr
}

func createClass(t *testing.T, svc *class.Service, teacherID string, maxStudents int, price float64) class.Class {
	cls, err := svc.Create(teacherID, class.NewClass{
		Subject:       "Spanish",
		Level:         "B1",
		StartTime:     "18:00",
		EndTime:       "19:00",
		SelectedDays:  []int{1, 3},
		DurationWeeks: 12,
		Price:         price,
		Currency:      "DOP",
		MaxStudents:   maxStudents,
	})
	if err != nil {
		t.Fatalf("createClass(): %v", err)
	}
	return cls
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

// newUploadRequest builds a multipart request with the given form fields and
// one file part per entry in files.
func newUploadRequest(
	t *testing.T,
	method, path, token string,
	fields map[string]string,
	files map[string]uploadFile,
) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("newUploadRequest(): %v", err)
		}
	}
	for field, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+f.name+`"`)
		hdr.Set("Content-Type", f.contentType)
		part, err := w.CreatePart(hdr)
		if err != nil {
			t.Fatalf("newUploadRequest(): %v", err)
		}
		if _, err := io.Copy(part, bytes.NewReader(f.content)); err != nil {
			t.Fatalf("newUploadRequest(): %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("newUploadRequest(): %v", err)
	}

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

type uploadFile struct {
	name        string
	contentType string
	content     []byte
}

func getToken(t *testing.T, usr user.User) string {
	claims := GetUserClaims(usr)
	token, err := GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList(): %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
