package tests

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/classnet/backend/core/class"
	"github.com/classnet/backend/core/enrollment"
	"github.com/classnet/backend/core/user"
)

func Test_classApi_create(t *testing.T) {
	env := setup(t)

	student := createUser(t, env.usrRepo, "Hero", "herostudent", "hero@test.do", "", []string{user.RoleStudent}, true)
	teacher := createUser(t, env.usrRepo, "Teacher", "teacher01", "teacher@test.do", "", []string{user.RoleTeacher}, true)

	body := marchallObj(t, class.NewClass{
		Subject:       "Spanish",
		Level:         "B1",
		StartTime:     "18:00",
		EndTime:       "19:00",
		SelectedDays:  []int{1, 3},
		DurationWeeks: 12,
		Price:         500,
		Currency:      "dop",
		MaxStudents:   10,
	})

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, body: body, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Teacher required", token: getToken(t, student), wantCode: http.StatusForbidden,
			body: body, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "invalid weekday codes", token: getToken(t, teacher), wantCode: http.StatusBadRequest,
			body: marchallObj(t, class.NewClass{
				Subject: "Spanish", StartTime: "18:00", EndTime: "19:00",
				SelectedDays: []int{0, 8}, DurationWeeks: 12, Currency: "DOP", MaxStudents: 10,
			}),
			wantData: marchallObj(t, map[string]string{"selected_days": "weekday codes must be within 1-7"}),
		},
		{name: "created", token: getToken(t, teacher), wantCode: http.StatusCreated, body: body},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/classes"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			env.app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
				}
				var cls class.Class
				if err := json.Unmarshal(rec.Body.Bytes(), &cls); err != nil {
					t.Fatalf("json.Unmarshal() failed! err %v", err)
				}
				if cls.Status != class.StatusReadyToStart {
					t.Errorf("failed! status = %v; want %v", cls.Status, class.StatusReadyToStart)
				}
				if cls.TeacherID != teacher.ID {
					t.Errorf("failed! teacherID = %v; want %v", cls.TeacherID, teacher.ID)
				}
				if cls.Currency != "DOP" {
					t.Errorf("failed! currency = %v; want DOP", cls.Currency)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_classApi_lifecycle(t *testing.T) {
	env := setup(t)

	teacher := createUser(t, env.usrRepo, "Teacher", "teacher01", "teacher@test.do", "", []string{user.RoleTeacher}, true)
	other := createUser(t, env.usrRepo, "Other", "teacher02", "other@test.do", "", []string{user.RoleTeacher}, true)
	cls := createClass(t, env.classSvc, teacher.ID, 10, 500)

	teacherToken := getToken(t, teacher)

	// only the class's own teacher may start it
	req, rec := newAuthRequest(http.MethodPost, "/v1/classes/"+cls.ID+"/start", getToken(t, other))
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("start by other teacher: code = %v; want %v", rec.Code, http.StatusForbidden)
	}

	// start
	req, rec = newAuthRequest(http.MethodPost, "/v1/classes/"+cls.ID+"/start", teacherToken)
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var started class.Class
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	if started.Status != class.StatusInProgress {
		t.Errorf("start: status = %v; want %v", started.Status, class.StatusInProgress)
	}
	if started.StartDate == nil {
		t.Error("start: startDate not recorded")
	}

	// a second start loses the state check
	req, rec = newAuthRequest(http.MethodPost, "/v1/classes/"+cls.ID+"/start", teacherToken)
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("double start: code = %v; want %v", rec.Code, http.StatusConflict)
	}

	// schedule is frozen once started
	req, rec = newAuthRequest(http.MethodPut, "/v1/classes/"+cls.ID, teacherToken, marchallObj(t, class.UpdateClass{Price: 600}))
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("update after start: code = %v; want %v", rec.Code, http.StatusConflict)
	}

	// complete
	req, rec = newAuthRequest(http.MethodPost, "/v1/classes/"+cls.ID+"/complete", teacherToken)
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: code = %v; want %v", rec.Code, http.StatusOK)
	}

	// cancelling a finished class fails
	req, rec = newAuthRequest(http.MethodPost, "/v1/classes/"+cls.ID+"/cancel", teacherToken)
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel after complete: code = %v; want %v", rec.Code, http.StatusConflict)
	}
}

func Test_classApi_startInitializesBilling(t *testing.T) {
	env := setup(t)

	teacher := createUser(t, env.usrRepo, "Teacher", "teacher01", "teacher@test.do", "", []string{user.RoleTeacher}, true)
	student := createUser(t, env.usrRepo, "Hero", "herostudent", "hero@test.do", "", []string{user.RoleStudent}, true)
	cls := createClass(t, env.classSvc, teacher.ID, 10, 500)

	enr, err := env.enrollSvc.CreatePaid(student, cls.ID)
	if err != nil {
		t.Fatalf("CreatePaid(): %v", err)
	}
	enr.Status = enrollment.StatusEnrolled
	if _, err := env.enrollRepo.UpdateEnrollment(enr); err != nil {
		t.Fatalf("UpdateEnrollment(): %v", err)
	}

	req, rec := newAuthRequest(http.MethodPost, "/v1/classes/"+cls.ID+"/start", getToken(t, teacher))
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	enr, err = env.enrollRepo.GetEnrollmentByID(enr.ID)
	if err != nil {
		t.Fatalf("GetEnrollmentByID(): %v", err)
	}
	if enr.BillingStartDate == nil {
		t.Fatal("billing start date not set")
	}
	wantDue := enr.BillingStartDate.AddDate(0, 1, 0)
	if enr.NextPaymentDueDate == nil || !enr.NextPaymentDueDate.Equal(wantDue) {
		t.Errorf("nextPaymentDueDate = %v; want %v", enr.NextPaymentDueDate, wantDue)
	}
	if enr.PriceAtEnrollment != 500 {
		t.Errorf("priceAtEnrollment = %v; want 500", enr.PriceAtEnrollment)
	}
	if len(enr.PaymentsMade) != 1 {
		t.Fatalf("len(paymentsMade) = %d; want 1", len(enr.PaymentsMade))
	}
	if p := enr.PaymentsMade[0]; p.Status != enrollment.PaymentPaid || p.Notes != "initial enrollment payment" {
		t.Errorf("payment = %+v; want paid initial enrollment payment", p)
	}

	// re-running billing initialization must not double-bill
	if err := env.enrollSvc.StartClassBilling(cls.ID, *enr.BillingStartDate); err != nil {
		t.Fatalf("StartClassBilling(): %v", err)
	}
	enr, err = env.enrollRepo.GetEnrollmentByID(enr.ID)
	if err != nil {
		t.Fatalf("GetEnrollmentByID(): %v", err)
	}
	if len(enr.PaymentsMade) != 1 {
		t.Errorf("after re-run, len(paymentsMade) = %d; want 1", len(enr.PaymentsMade))
	}
}

func Test_classApi_weekContent(t *testing.T) {
	env := setup(t)

	teacher := createUser(t, env.usrRepo, "Teacher", "teacher01", "teacher@test.do", "", []string{user.RoleTeacher}, true)
	student := createUser(t, env.usrRepo, "Hero", "herostudent", "hero@test.do", "", []string{user.RoleStudent}, true)
	cls := createClass(t, env.classSvc, teacher.ID, 10, 500)

	teacherToken := getToken(t, teacher)
	dueAt := time.Now().UTC().Add(7 * 24 * time.Hour).Truncate(time.Second)

	body := marchallObj(t, class.UpsertWeekContent{
		WeekNumber:      1,
		MeetingLink:     "https://meet.test/abc",
		Assignment:      "Read chapter 1 and record yourself.",
		AssignmentDueAt: &dueAt,
	})

	// students cannot publish content
	req, rec := newAuthRequest(http.MethodPut, "/v1/classes/"+cls.ID+"/weeks", getToken(t, student), body)
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("student upsert: code = %v; want %v", rec.Code, http.StatusForbidden)
	}

	// upsert week 1
	req, rec = newAuthRequest(http.MethodPut, "/v1/classes/"+cls.ID+"/weeks", teacherToken, body)
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert: code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var wc class.WeekContent
	if err := json.Unmarshal(rec.Body.Bytes(), &wc); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}

	// re-upsert replaces, keeping identity
	body2 := marchallObj(t, class.UpsertWeekContent{WeekNumber: 1, RecordingLink: "https://rec.test/abc"})
	req, rec = newAuthRequest(http.MethodPut, "/v1/classes/"+cls.ID+"/weeks", teacherToken, body2)
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("re-upsert: code = %v; want %v", rec.Code, http.StatusOK)
	}
	var wc2 class.WeekContent
	if err := json.Unmarshal(rec.Body.Bytes(), &wc2); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	if wc2.ID != wc.ID {
		t.Errorf("re-upsert changed identity: %v -> %v", wc.ID, wc2.ID)
	}
	if wc2.RecordingLink != "https://rec.test/abc" {
		t.Errorf("recordingLink = %v; want https://rec.test/abc", wc2.RecordingLink)
	}

	// week beyond class duration
	req, rec = newAuthRequest(http.MethodPut, "/v1/classes/"+cls.ID+"/weeks", teacherToken,
		marchallObj(t, class.UpsertWeekContent{WeekNumber: 13}))
	env.app.ServeHTTP(rec, req)
	tt := httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, map[string]string{"week_number": "week number is beyond the class duration"}),
	}
	checkCodeAndData(t, tt, rec)

	// any authed user can read the published weeks
	req, rec = newAuthRequest(http.MethodGet, "/v1/classes/"+cls.ID+"/weeks", getToken(t, student))
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("query weeks: code = %v; want %v", rec.Code, http.StatusOK)
	}
	var weeks []class.WeekContent
	if err := json.Unmarshal(rec.Body.Bytes(), &weeks); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	if len(weeks) != 1 || weeks[0].WeekNumber != 1 {
		t.Errorf("weeks = %+v; want single week 1", weeks)
	}
}
