package tests

import (
	"encoding/json"
	"net/http"
	"strconv"
	"testing"

	"github.com/classnet/backend/core/assignment"
	"github.com/classnet/backend/core/user"
)

func Test_assignmentApi_submitAndGrade(t *testing.T) {
	env := setup(t)

	teacher := createUser(t, env.usrRepo, "Teacher", "teacher01", "teacher@test.do", "", []string{user.RoleTeacher}, true)
	student := createUser(t, env.usrRepo, "Hero", "herostudent", "hero@test.do", "", []string{user.RoleStudent}, true)
	cls := createClass(t, env.classSvc, teacher.ID, 10, 500)

	studentToken := getToken(t, student)
	teacherToken := getToken(t, teacher)

	submitFields := func(week, day int, message string) map[string]string {
		return map[string]string{
			"class_id":    cls.ID,
			"week_number": strconv.Itoa(week),
			"day":         strconv.Itoa(day),
			"message":     message,
		}
	}

	// day 1: message + audio recording
	req, rec := newUploadRequest(t, http.MethodPost, "/v1/assignments", studentToken,
		submitFields(1, 1, "here is my reading"),
		map[string]uploadFile{"audio": {name: "reading.mp3", contentType: "audio/mpeg", content: []byte("fake mp3")}})
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit day 1: code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var sub assignment.SubmittedAssignment
	if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	if sub.Days[1].AudioURL == "" {
		t.Error("submit day 1: audio URL not recorded")
	}
	if env.storage.SaveCalls != 1 {
		t.Errorf("storage.SaveCalls = %d; want 1", env.storage.SaveCalls)
	}

	// day 2 of the same week lands on the same weekly record
	req, rec = newUploadRequest(t, http.MethodPost, "/v1/assignments", studentToken, submitFields(1, 2, "day two"), nil)
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit day 2: code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var sub2 assignment.SubmittedAssignment
	if err := json.Unmarshal(rec.Body.Bytes(), &sub2); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	if sub2.ID != sub.ID {
		t.Errorf("submit day 2: new record %v; want upsert onto %v", sub2.ID, sub.ID)
	}
	if len(sub2.Days) != 2 {
		t.Errorf("submit day 2: len(days) = %d; want 2", len(sub2.Days))
	}

	// an oversized attachment is rejected with nothing stored
	req, rec = newUploadRequest(t, http.MethodPost, "/v1/assignments", studentToken,
		submitFields(1, 3, "too big"),
		map[string]uploadFile{"file": {name: "essay.pdf", contentType: "application/pdf", content: make([]byte, 6<<20)}})
	env.app.ServeHTTP(rec, req)
	tt := httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"file": "file exceeds the 5MB size limit"})}
	checkCodeAndData(t, tt, rec)
	if env.storage.SaveCalls != 1 {
		t.Errorf("storage.SaveCalls = %d; want still 1", env.storage.SaveCalls)
	}

	// grading is for teachers
	gradePath := "/v1/assignments/" + sub.ID + "/grade"
	req, rec = newAuthRequest(http.MethodPost, gradePath, studentToken, marchallObj(t, assignment.Grades{Day: 1}))
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("grade by student: code = %v; want %v", rec.Code, http.StatusForbidden)
	}

	iPtr := func(i int) *int { return &i }

	// out-of-range grades reject the whole call with no partial update
	req, rec = newAuthRequest(http.MethodPost, gradePath, teacherToken,
		marchallObj(t, assignment.Grades{Day: 1, FileGrade: iPtr(80), OverallGrade: iPtr(101)}))
	env.app.ServeHTTP(rec, req)
	tt = httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"overall_grade": "overall_grade must be 100 or less"})}
	checkCodeAndData(t, tt, rec)
	fresh, err := env.subSvc.GetByID(sub.ID)
	if err != nil {
		t.Fatalf("GetByID(): %v", err)
	}
	if fresh.Days[1].FileGrade != nil || fresh.Days[1].IsGraded {
		t.Errorf("invalid grade leaked a partial update: %+v", fresh.Days[1])
	}

	// grading a day with no work
	req, rec = newAuthRequest(http.MethodPost, gradePath, teacherToken, marchallObj(t, assignment.Grades{Day: 6, OverallGrade: iPtr(90)}))
	env.app.ServeHTTP(rec, req)
	tt = httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "no work submitted for this day"})}
	checkCodeAndData(t, tt, rec)

	// valid grade
	req, rec = newAuthRequest(http.MethodPost, gradePath, teacherToken,
		marchallObj(t, assignment.Grades{Day: 1, AudioGrade: iPtr(85), OverallGrade: iPtr(90), Feedback: "nice pronunciation"}))
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("grade: code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	if !sub.Days[1].IsGraded || sub.Days[1].Feedback != "nice pronunciation" {
		t.Errorf("grade: day 1 = %+v; want graded with feedback", sub.Days[1])
	}
	if sub.GradedBy != teacher.ID {
		t.Errorf("grade: gradedBy = %v; want %v", sub.GradedBy, teacher.ID)
	}

	// re-submitting the day updates content but never the teacher's grades
	req, rec = newUploadRequest(t, http.MethodPost, "/v1/assignments", studentToken, submitFields(1, 1, "corrected reading"), nil)
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("re-submit: code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	day := sub.Days[1]
	if day.Message != "corrected reading" {
		t.Errorf("re-submit: message = %q; want updated content", day.Message)
	}
	if day.AudioGrade == nil || *day.AudioGrade != 85 || !day.IsGraded {
		t.Errorf("re-submit wiped grades: %+v", day)
	}
	if day.AudioURL == "" {
		t.Errorf("re-submit wiped the audio URL: %+v", day)
	}
}

func Test_assignmentApi_queries(t *testing.T) {
	env := setup(t)

	teacher := createUser(t, env.usrRepo, "Teacher", "teacher01", "teacher@test.do", "", []string{user.RoleTeacher}, true)
	other := createUser(t, env.usrRepo, "Other", "teacher02", "other@test.do", "", []string{user.RoleTeacher}, true)
	student := createUser(t, env.usrRepo, "Hero", "herostudent", "hero@test.do", "", []string{user.RoleStudent}, true)
	cls := createClass(t, env.classSvc, teacher.ID, 10, 500)

	for _, in := range []assignment.Submission{
		{WeekNumber: 1, Day: 2, Message: "week one, day two"},
		{WeekNumber: 1, Day: 1, Message: "week one, day one"},
		{WeekNumber: 2, Day: 1, Message: "week two"},
	} {
		if _, err := env.subSvc.Submit(student.ID, cls.ID, in); err != nil {
			t.Fatalf("Submit(): %v", err)
		}
	}

	// the student's own flattened view, ordered by (week, day)
	req, rec := newAuthRequest(http.MethodGet, "/v1/assignments/mine?class_id="+cls.ID, getToken(t, student))
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("mine: code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var rows []assignment.Row
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("mine: len(rows) = %d; want 3", len(rows))
	}
	wantOrder := [][2]int{{1, 1}, {1, 2}, {2, 1}}
	for i, w := range wantOrder {
		if rows[i].WeekNumber != w[0] || rows[i].Day != w[1] {
			t.Errorf("mine: rows[%d] = week %d day %d; want week %d day %d", i, rows[i].WeekNumber, rows[i].Day, w[0], w[1])
		}
	}

	// class-week review is for the class's own teacher
	req, rec = newAuthRequest(http.MethodGet, "/v1/assignments/classes/"+cls.ID+"/weeks/1", getToken(t, other))
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("week review by other teacher: code = %v; want %v", rec.Code, http.StatusForbidden)
	}

	req, rec = newAuthRequest(http.MethodGet, "/v1/assignments/classes/"+cls.ID+"/weeks/1", getToken(t, teacher))
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("week review: code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("week review: len(rows) = %d; want 2", len(rows))
	}
}
