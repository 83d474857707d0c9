package user

import (
	"testing"
	"time"
)

func TestMakeVerifyToken(t *testing.T) {
	secretKey = []byte("secret")
	passwordResetTimeoutDelta = 3 * 24 * time.Hour
	emailVerificationDelta = 7 * 24 * time.Hour

	now := time.Now()
	usr := User{
		ID:        "b3b79481-0b2e-4f58-a118-0c18c34e34a1",
		Name:      "T",
		Username:  "t",
		Email:     "t@test.test",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		LastLogin: now,
	}
	_ = usr.SetPassword("pwd")

	validToken := makeToken(usr, purposePasswordReset)
	verifToken := makeToken(usr, purposeEmailVerification)

	// generate an expired token
	dayLate := passwordResetTimeoutDelta + (24 * time.Hour)
	nowFunc = func() time.Time { return time.Now().Add(-dayLate) }
	expiredToken := makeToken(usr, purposePasswordReset)
	nowFunc = time.Now // reset

	tests := []struct {
		name    string
		usr     User
		token   string
		purpose string
		wantErr error
	}{
		{name: "no token", usr: usr, purpose: purposePasswordReset, wantErr: errInvalidToken},
		{name: "invalid parts len", usr: usr, token: "lmaooolol", purpose: purposePasswordReset, wantErr: errInvalidToken},
		{name: "invalid base32", usr: usr, token: "hahaha-sigsig-sig", purpose: purposePasswordReset, wantErr: errInvalidToken},
		{name: "invalid timestamp", usr: usr, token: "NRXWY-sigsig-sig", purpose: purposePasswordReset, wantErr: errInvalidToken},
		{name: "invalid token", usr: usr, token: "HE4TS-sigsig-sig", purpose: purposePasswordReset, wantErr: errInvalidToken},
		{name: "wrong purpose", usr: usr, token: verifToken, purpose: purposePasswordReset, wantErr: errInvalidToken},
		{name: "expired token", usr: usr, token: expiredToken, purpose: purposePasswordReset, wantErr: errTokenExpired},
		{name: "valid token", usr: usr, token: validToken, purpose: purposePasswordReset},
		{name: "valid verification token", usr: usr, token: verifToken, purpose: purposeEmailVerification},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := verifyToken(tt.usr, tt.token, tt.purpose); err != tt.wantErr {
				t.Errorf("verifyToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyTokenInvalidatedByStateChange(t *testing.T) {
	secretKey = []byte("secret")
	passwordResetTimeoutDelta = 3 * 24 * time.Hour
	emailVerificationDelta = 7 * 24 * time.Hour

	usr := User{ID: "52b536cd-6a1c-45f5-9911-1f1e40ddcbf4", Email: "t@test.test"}
	_ = usr.SetPassword("pwd")

	resetToken := makeToken(usr, purposePasswordReset)
	_ = usr.SetPassword("new-pwd")
	if err := verifyToken(usr, resetToken, purposePasswordReset); err != errInvalidToken {
		t.Errorf("verifyToken() after password change error = %v, wantErr %v", err, errInvalidToken)
	}

	verifToken := makeToken(usr, purposeEmailVerification)
	usr.IsVerified = true
	if err := verifyToken(usr, verifToken, purposeEmailVerification); err != errInvalidToken {
		t.Errorf("verifyToken() after verification error = %v, wantErr %v", err, errInvalidToken)
	}
}
