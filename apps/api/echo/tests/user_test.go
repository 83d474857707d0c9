package tests

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"

	echoapi "github.com/classnet/backend/apps/api/echo"
	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/user"
	emailsvc "github.com/classnet/backend/services/email"
)

func Test_userApi_login(t *testing.T) {
	env := setup(t)

	student := createUser(t, env.usrRepo, "Hero", "herostudent", "hero@test.do", "LolC@t123", []string{user.RoleStudent}, true)
	createUser(t, env.usrRepo, "N Dog", "ndoggy", "ndog@test.do", "LolC@t123", []string{user.RoleStudent}, false)

	tests := []httpTest{
		{
			name: "unknown user", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.LoginRequest{Username: "ghost", Password: "LolC@t123"}),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.LoginRequest{Username: student.Username, Password: "nope"}),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated account", wantCode: http.StatusForbidden,
			body:     marchallObj(t, echoapi.LoginRequest{Username: "ndoggy", Password: "LolC@t123"}),
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "login with username", wantCode: http.StatusOK, body: marchallObj(t, echoapi.LoginRequest{Username: student.Username, Password: "LolC@t123"})},
		{name: "login with email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.LoginRequest{Username: student.Email, Password: "LolC@t123"})},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/login"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			env.app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
				}
				var respData echoapi.LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Errorf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				var cookieSet bool
				for _, c := range rec.Result().Cookies() {
					if c.Name == "AuthToken" && c.Value != "" && c.HttpOnly {
						cookieSet = true
					}
				}
				if !cookieSet {
					t.Error("failed! AuthToken cookie not set")
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_register(t *testing.T) {
	env := setup(t)

	createUser(t, env.usrRepo, "Hero", "herostudent", "hero@test.do", "", []string{user.RoleStudent}, true)

	body := func(name, uname, email, pwd string, roles ...string) []byte {
		return marchallObj(t, user.NewUser{
			Name:            name,
			Username:        uname,
			Email:           email,
			Password:        pwd,
			PasswordConfirm: pwd,
			Roles:           roles,
		})
	}

	tests := []httpTest{
		{
			name: "duplicate username", wantCode: http.StatusBadRequest,
			body:     body("Copy Cat", "herostudent", "copycat@test.do", "LolC@t123"),
			wantData: marchallObj(t, map[string]string{"username": "a user with this username already exists"}),
		},
		{
			name: "duplicate email", wantCode: http.StatusBadRequest,
			body:     body("Copy Cat", "copycat01", "hero@test.do", "LolC@t123"),
			wantData: marchallObj(t, map[string]string{"email": "a user with this email already exists"}),
		},
		{name: "signup ok", wantCode: http.StatusCreated, body: body("New Kid", "newkid01", "newkid@test.do", "LolC@t123")},
		// the public endpoint cannot hand out elevated roles
		{name: "roles forced to student", wantCode: http.StatusCreated, body: body("Sneaky", "sneaky01", "sneaky@test.do", "LolC@t123", user.RoleAdminOwner)},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/register"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			env.app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
				}
				var usr user.User
				if err := json.Unmarshal(rec.Body.Bytes(), &usr); err != nil {
					t.Errorf("json.Unmarshal() failed! err %v", err)
				}
				if len(usr.Roles) != 1 || usr.Roles[0] != user.RoleStudent {
					t.Errorf("failed! roles = %v; want [%s]", usr.Roles, user.RoleStudent)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_userQuery(t *testing.T) {
	env := setup(t)

	path := func(search string, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/v1/users?" + v.Encode()
	}

	student := createUser(t, env.usrRepo, "Hero", "herostudent", "hero@test.do", "", []string{user.RoleStudent}, true)
	teacher := createUser(t, env.usrRepo, "Tutor", "tutor01", "tutor@test.do", "", []string{user.RoleTeacher}, true)
	admin := createUser(t, env.usrRepo, "Admin", "admin01", "admin@test.do", "", []string{user.RoleAdminOwner}, true)

	adminToken := getToken(t, admin)
	empty := marchallList(t, []interface{}{}...)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/v1/users", token: getToken(t, student), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Get all", path: "/v1/users", token: adminToken, wantData: marchallList(t, student, teacher, admin)},
		{name: "search (unknown)", path: path("lol"), token: adminToken, wantData: empty},
		{name: "search=her", path: path("her"), token: adminToken, wantData: marchallList(t, student)},
		{name: "search=tutor", path: path("tutor"), token: adminToken, wantData: marchallList(t, teacher)},
		{name: "role (unknown)", path: path("", "lol"), token: adminToken, wantData: empty},
		{name: "role=teacher:", path: path("", user.RoleTeacher), token: adminToken, wantData: marchallList(t, teacher)},
		{
			name: "role=teacher:,student:", path: path("", user.RoleTeacher, user.RoleStudent),
			token: adminToken, wantData: marchallList(t, teacher, student),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			env.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_userRefreshToken(t *testing.T) {
	env := setup(t)

	naughty := createUser(t, env.usrRepo, "N Dog", "ndoggy", "ndog@test.do", "", []string{user.RoleStudent}, false)
	student := createUser(t, env.usrRepo, "Hero", "herostudent", "hero@test.do", "", []string{user.RoleStudent}, true)

	now := time.Now()
	unrefreshableClaims := &echoapi.Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    core.Conf.AppName,
			Subject:   student.ID,
			Audience:  "ClassNet",
			ExpiresAt: now.Add(core.Conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		OrigIssuedAt: now.Add(-2 * core.Conf.Server.JWTRefreshExpirationDelta).Unix(), // older than threshold
		IsStudent:    student.IsStudent(),
		Roles:        student.Roles,
	}
	unrefreshableToken, err := echoapi.GenerateToken(unrefreshableClaims)
	if err != nil {
		t.Fatalf("GenerateToken(): %v", err)
	}

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Inactive user not allowed", token: getToken(t, naughty), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"})},
		{name: "Token refreshed", token: getToken(t, student), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/token-refresh"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			env.app.ServeHTTP(rec, req)

			// cannot guess new token.. just check that it's not empty
			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
				}
				var respData echoapi.LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Errorf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_userResetPassword(t *testing.T) {
	env := setup(t)

	student := createUser(t, env.usrRepo, "Hero", "herostudent", "hero@test.do", "", []string{user.RoleStudent}, true)
	successData := marchallObj(t, echoapi.SuccessResponse{Success: "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."})

	pathRegex, err := regexp.Compile("/password-reset/.+/.+")
	if err != nil {
		t.Fatalf("regexp.Compile(): %v", err)
	}

	type extraTest struct {
		emailSent bool
		to        mail.Address
	}
	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": "this field is required"}),
		},
		{
			name: "unknown email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.PasswordResetRequest{Email: "lol@test.com"}),
			wantData: successData, extra: extraTest{emailSent: false},
		},
		{
			name: "known email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.PasswordResetRequest{Email: student.Email}),
			wantData: successData, extra: extraTest{emailSent: true, to: mail.Address{Name: student.Name, Address: student.Email}},
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/password-reset"

		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ClearSentMessages()

			req, rec := newRequest(tt.method, tt.path, tt.body)
			env.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if extra, ok := tt.extra.(extraTest); ok {
				if extra.emailSent {
					if len(emailsvc.SentMessages) != 1 {
						t.Fatalf("failed! len(SentMessages) = %d; want 1", len(emailsvc.SentMessages))
					}
					msg := emailsvc.SentMessages[0]
					if msg.To[0] != extra.to {
						t.Errorf("failed! To = %v; want %v", msg.To[0], extra.to)
					}
					if !strings.Contains(msg.TextContent, student.Username) {
						t.Errorf("failed! text content does not contain the username %q", student.Username)
					}
					if !pathRegex.MatchString(msg.TextContent) {
						t.Errorf("failed! text content does not match pathRegex %v", pathRegex)
					}
					if !pathRegex.MatchString(msg.HTMLContent) {
						t.Errorf("failed! HTML content does not match pathRegex %v", pathRegex)
					}
				} else {
					if len(emailsvc.SentMessages) > 0 {
						t.Errorf("failed! len(SentMessages) = %d; want 0", len(emailsvc.SentMessages))
					}
				}
			}
		})
	}
}
