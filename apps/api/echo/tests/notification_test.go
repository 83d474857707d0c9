package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/classnet/backend/core/notification"
	"github.com/classnet/backend/core/user"
)

func Test_notificationApi(t *testing.T) {
	env := setup(t)

	student := createUser(t, env.usrRepo, "Hero", "herostudent", "hero@test.do", "", []string{user.RoleStudent}, true)
	other := createUser(t, env.usrRepo, "Other", "otherkid", "other@test.do", "", []string{user.RoleStudent}, true)

	env.notifSvc.Emit([]string{student.ID, other.ID}, "Class started", "Spanish has started.", "/classes/abc")
	env.notifSvc.Emit([]string{student.ID}, "Payment approved", "You are enrolled.", "/classes/abc")

	studentToken := getToken(t, student)

	query := func(token string) []notification.Notification {
		req, rec := newAuthRequest(http.MethodGet, "/v1/notifications", token)
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("query: code = %v; want %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
		}
		var notifs []notification.Notification
		if err := json.Unmarshal(rec.Body.Bytes(), &notifs); err != nil {
			t.Fatalf("json.Unmarshal(): %v", err)
		}
		return notifs
	}

	// each recipient only sees their own feed
	notifs := query(studentToken)
	if len(notifs) != 2 {
		t.Fatalf("len(notifications) = %d; want 2", len(notifs))
	}
	if n := query(getToken(t, other)); len(n) != 1 {
		t.Fatalf("other's len(notifications) = %d; want 1", len(n))
	}

	// marking someone else's notification read is a 404
	req, rec := newAuthRequest(http.MethodPost, "/v1/notifications/"+notifs[0].ID+"/read", getToken(t, other))
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign mark read: code = %v; want %v", rec.Code, http.StatusNotFound)
	}

	req, rec = newAuthRequest(http.MethodPost, "/v1/notifications/"+notifs[0].ID+"/read", studentToken)
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("mark read: code = %v; want %v", rec.Code, http.StatusNoContent)
	}
	notifs = query(studentToken)
	var readCount int
	for _, n := range notifs {
		if n.Read {
			readCount++
		}
	}
	if readCount != 1 {
		t.Errorf("readCount = %d; want 1", readCount)
	}

	req, rec = newAuthRequest(http.MethodPost, "/v1/notifications/read-all", studentToken)
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("mark all read: code = %v; want %v", rec.Code, http.StatusNoContent)
	}
	for _, n := range query(studentToken) {
		if !n.Read {
			t.Errorf("notification %s still unread after read-all", n.ID)
		}
	}
}
