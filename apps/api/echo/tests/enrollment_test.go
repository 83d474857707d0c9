package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	echoapi "github.com/classnet/backend/apps/api/echo"
	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/enrollment"
	"github.com/classnet/backend/core/user"
)

func Test_enrollmentApi_enroll(t *testing.T) {
	env := setup(t)

	teacher := createUser(t, env.usrRepo, "Teacher", "teacher01", "teacher@test.do", "", []string{user.RoleTeacher}, true)
	student := createUser(t, env.usrRepo, "Hero", "herostudent", "hero@test.do", "", []string{user.RoleStudent}, true)
	other := createUser(t, env.usrRepo, "Other", "otherkid", "other@test.do", "", []string{user.RoleStudent}, true)
	cls := createClass(t, env.classSvc, teacher.ID, 1, 500) // one seat only
	bigCls := createClass(t, env.classSvc, teacher.ID, 10, 500)

	studentToken := getToken(t, student)
	body := marchallObj(t, echoapi.EnrollRequest{ClassID: cls.ID})

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, body: body, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Student required", token: getToken(t, teacher), wantCode: http.StatusForbidden,
			body: body, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "unknown class", token: studentToken, wantCode: http.StatusNotFound,
			body:     marchallObj(t, echoapi.EnrollRequest{ClassID: "nope"}),
			wantData: marchallObj(t, httpErr{Error: "class not found"}),
		},
		{name: "enrolled", token: studentToken, wantCode: http.StatusCreated, body: body},
		{
			name: "duplicate pair rejected", token: studentToken, wantCode: http.StatusConflict,
			body: body, wantData: marchallObj(t, httpErr{Error: "an enrollment already exists for this student and class"}),
		},
		{
			name: "class full", token: getToken(t, other), wantCode: http.StatusConflict,
			body: body, wantData: marchallObj(t, httpErr{Error: "maximum students reached"}),
		},
		{name: "seat in another class", token: getToken(t, other), wantCode: http.StatusCreated, body: marchallObj(t, echoapi.EnrollRequest{ClassID: bigCls.ID})},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/enrollments"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			env.app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				var enr enrollment.Enrollment
				if err := json.Unmarshal(rec.Body.Bytes(), &enr); err != nil {
					t.Fatalf("json.Unmarshal(): %v", err)
				}
				if enr.Status != enrollment.StatusPendingPayment {
					t.Errorf("failed! status = %v; want %v", enr.Status, enrollment.StatusPendingPayment)
				}
				if enr.PriceAtEnrollment != 500 {
					t.Errorf("failed! priceAtEnrollment = %v; want 500", enr.PriceAtEnrollment)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_enrollmentApi_trial(t *testing.T) {
	env := setup(t)

	teacher := createUser(t, env.usrRepo, "Teacher", "teacher01", "teacher@test.do", "", []string{user.RoleTeacher}, true)
	student := createUser(t, env.usrRepo, "Hero", "herostudent", "hero@test.do", "", []string{user.RoleStudent}, true)
	cls := createClass(t, env.classSvc, teacher.ID, 10, 500)
	otherCls := createClass(t, env.classSvc, teacher.ID, 10, 500)

	studentToken := getToken(t, student)

	// first trial
	req, rec := newAuthRequest(http.MethodPost, "/v1/enrollments/trial", studentToken, marchallObj(t, echoapi.EnrollRequest{ClassID: cls.ID}))
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("trial: code = %v; want %v; body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var enr enrollment.Enrollment
	if err := json.Unmarshal(rec.Body.Bytes(), &enr); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	if enr.Status != enrollment.StatusTrial {
		t.Errorf("trial: status = %v; want %v", enr.Status, enrollment.StatusTrial)
	}
	// the class has not started; trial expiry anchors at the start date instead
	if enr.ExpiresAt != nil {
		t.Errorf("trial: expiresAt = %v; want nil before class start", enr.ExpiresAt)
	}

	// the one-trial flag is consumed at request time, even for another class
	req, rec = newAuthRequest(http.MethodPost, "/v1/enrollments/trial", studentToken, marchallObj(t, echoapi.EnrollRequest{ClassID: otherCls.ID}))
	env.app.ServeHTTP(rec, req)
	tt := httpTest{wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: "trial period already used"})}
	checkCodeAndData(t, tt, rec)
}

func Test_enrollmentApi_paymentProof(t *testing.T) {
	env := setup(t)

	teacher := createUser(t, env.usrRepo, "Teacher", "teacher01", "teacher@test.do", "", []string{user.RoleTeacher}, true)
	student := createUser(t, env.usrRepo, "Hero", "herostudent", "hero@test.do", "", []string{user.RoleStudent}, true)
	admin := createUser(t, env.usrRepo, "Admin", "admin01", "admin@test.do", "", []string{user.RoleAdminStaff}, true)
	cls := createClass(t, env.classSvc, teacher.ID, 10, 500)

	enr, err := env.enrollSvc.CreatePaid(student, cls.ID)
	if err != nil {
		t.Fatalf("CreatePaid(): %v", err)
	}

	studentToken := getToken(t, student)
	adminToken := getToken(t, admin)
	proofPath := "/v1/enrollments/" + enr.ID + "/payment-proof"

	// an oversized proof is rejected before anything reaches the object store
	req, rec := newUploadRequest(t, http.MethodPost, proofPath, studentToken, nil, map[string]uploadFile{
		"file": {name: "proof.jpg", contentType: "image/jpeg", content: bytes.Repeat([]byte("a"), 6<<20)},
	})
	env.app.ServeHTTP(rec, req)
	tt := httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"file": "file exceeds the 5MB size limit"})}
	checkCodeAndData(t, tt, rec)
	if env.storage.SaveCalls != 0 {
		t.Fatalf("storage.SaveCalls = %d; want 0", env.storage.SaveCalls)
	}

	// a disallowed type is rejected too
	req, rec = newUploadRequest(t, http.MethodPost, proofPath, studentToken, nil, map[string]uploadFile{
		"file": {name: "proof.exe", contentType: "application/octet-stream", content: []byte("MZ")},
	})
	env.app.ServeHTTP(rec, req)
	tt = httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"file": "file type not allowed"})}
	checkCodeAndData(t, tt, rec)
	if env.storage.SaveCalls != 0 {
		t.Fatalf("storage.SaveCalls = %d; want 0", env.storage.SaveCalls)
	}

	// only students submit proofs
	req, rec = newUploadRequest(t, http.MethodPost, proofPath, getToken(t, teacher), nil, map[string]uploadFile{
		"file": {name: "proof.jpg", contentType: "image/jpeg", content: []byte("fake jpg")},
	})
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("proof by non-student: code = %v; want %v", rec.Code, http.StatusForbidden)
	}

	// valid proof
	req, rec = newUploadRequest(t, http.MethodPost, proofPath, studentToken, nil, map[string]uploadFile{
		"file": {name: "proof.jpg", contentType: "image/jpeg", content: []byte("fake jpg")},
	})
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("proof: code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &enr); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	if enr.Status != enrollment.StatusProofSubmitted {
		t.Errorf("proof: status = %v; want %v", enr.Status, enrollment.StatusProofSubmitted)
	}
	if env.storage.SaveCalls != 1 {
		t.Errorf("storage.SaveCalls = %d; want 1", env.storage.SaveCalls)
	}
	if len(enr.PaymentsMade) != 1 || enr.PaymentsMade[0].Status != enrollment.PaymentPending {
		t.Fatalf("paymentsMade = %+v; want one pending payment", enr.PaymentsMade)
	}

	// only admins review proofs
	req, rec = newAuthRequest(http.MethodPost, "/v1/enrollments/"+enr.ID+"/approve", studentToken)
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("approve by student: code = %v; want %v", rec.Code, http.StatusForbidden)
	}

	// reject, then re-submit, then approve
	req, rec = newAuthRequest(http.MethodPost, "/v1/enrollments/"+enr.ID+"/reject", adminToken,
		marchallObj(t, echoapi.RejectProofRequest{Reason: "unreadable photo"}))
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("reject: code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &enr); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	if enr.Status != enrollment.StatusProofRejected {
		t.Errorf("reject: status = %v; want %v", enr.Status, enrollment.StatusProofRejected)
	}
	if enr.PaymentsMade[0].Status != enrollment.PaymentRejected || enr.PaymentsMade[0].Notes != "unreadable photo" {
		t.Errorf("reject: payment = %+v; want rejected with reason", enr.PaymentsMade[0])
	}

	req, rec = newUploadRequest(t, http.MethodPost, proofPath, studentToken, nil, map[string]uploadFile{
		"file": {name: "proof2.jpg", contentType: "image/jpeg", content: []byte("better jpg")},
	})
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("re-submit: code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	req, rec = newAuthRequest(http.MethodPost, "/v1/enrollments/"+enr.ID+"/approve", adminToken)
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &enr); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	if enr.Status != enrollment.StatusEnrolled {
		t.Errorf("approve: status = %v; want %v", enr.Status, enrollment.StatusEnrolled)
	}
	if enr.LastPaymentDate == nil {
		t.Error("approve: lastPaymentDate not set")
	}

	// approving again with no open payment conflicts
	req, rec = newAuthRequest(http.MethodPost, "/v1/enrollments/"+enr.ID+"/approve", adminToken)
	env.app.ServeHTTP(rec, req)
	tt = httpTest{wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: "enrollment has no payment awaiting review"})}
	checkCodeAndData(t, tt, rec)
}

func Test_enrollmentApi_adminQuery(t *testing.T) {
	env := setup(t)

	teacher := createUser(t, env.usrRepo, "Teacher", "teacher01", "teacher@test.do", "", []string{user.RoleTeacher}, true)
	admin := createUser(t, env.usrRepo, "Admin", "admin01", "admin@test.do", "", []string{user.RoleAdminStaff}, true)
	cls := createClass(t, env.classSvc, teacher.ID, 10, 500)

	for i, uname := range []string{"kidone01", "kidtwo02", "kidthree03"} {
		student := createUser(t, env.usrRepo, "Kid", uname, uname+"@test.do", "", []string{user.RoleStudent}, true)
		if _, err := env.enrollSvc.CreatePaid(student, cls.ID); err != nil {
			t.Fatalf("CreatePaid() #%d: %v", i, err)
		}
	}

	adminToken := getToken(t, admin)

	req, rec := newAuthRequest(http.MethodGet, "/v1/enrollments?page=1&limit=2", adminToken)
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("query: code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		Data       []enrollment.Enrollment `json:"data"`
		Pagination core.Pagination         `json:"pagination"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	if len(resp.Data) != 2 {
		t.Errorf("len(data) = %d; want 2", len(resp.Data))
	}
	want := core.Pagination{Page: 1, Limit: 2, Total: 3, TotalPages: 2}
	if resp.Pagination != want {
		t.Errorf("pagination = %+v; want %+v", resp.Pagination, want)
	}

	// a page past the data is empty but keeps the totals
	req, rec = newAuthRequest(http.MethodGet, "/v1/enrollments?page=5&limit=2", adminToken)
	env.app.ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	if len(resp.Data) != 0 || resp.Pagination.Total != 3 {
		t.Errorf("page 5: data = %d items, total = %d; want 0 items, total 3", len(resp.Data), resp.Pagination.Total)
	}

	// pending review queue starts empty
	req, rec = newAuthRequest(http.MethodGet, "/v1/enrollments/pending-payments", adminToken)
	env.app.ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	if resp.Pagination.Total != 0 {
		t.Errorf("pending total = %d; want 0", resp.Pagination.Total)
	}
}
