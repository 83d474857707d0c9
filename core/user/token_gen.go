package user

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/classnet/backend/core"
)

// Purpose-scoped stateless tokens: an HMAC over the user's mutable state and a
// day-resolution timestamp. A token invalidates itself as soon as the state it
// signs changes (password reset tokens die on login or password change; email
// verification tokens die once verified).
const (
	purposePasswordReset     = "password-reset"
	purposeEmailVerification = "email-verification"
)

var (
	salt    = []byte("classnet.backend.core.user.token_gen")
	nowFunc = time.Now // mockable

	// overridable in tests; default from core.Conf
	secretKey                 []byte
	passwordResetTimeoutDelta time.Duration
	emailVerificationDelta    time.Duration

	// errors
	errInvalidToken = errors.New("invalid token")
	errTokenExpired = errors.New("token expired")
)

func tokenConf(purpose string) ([]byte, time.Duration) {
	key := secretKey
	if key == nil {
		key = []byte(core.Conf.SecretKey)
	}
	var timeout time.Duration
	switch purpose {
	case purposeEmailVerification:
		timeout = emailVerificationDelta
		if timeout == 0 {
			timeout = core.Conf.EmailVerificationDelta
		}
	default:
		timeout = passwordResetTimeoutDelta
		if timeout == 0 {
			timeout = core.Conf.PasswordResetTimeoutDelta
		}
	}
	return key, timeout
}

// EncodeUID base64 encodes given User ID
func EncodeUID(usr User) string {
	return base64.RawURLEncoding.EncodeToString([]byte(usr.ID))
}

// decodeUID base64 decodes given UID
func decodeUID(uid string) (string, error) {
	idBytes, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil {
		return "", err
	}
	return string(idBytes), nil
}

// makeToken generates a purpose-scoped token for a given User.
func makeToken(usr User, purpose string) string {
	return makeTokenWithTimestamp(usr, purpose, numDaysSince2001(nowFunc()))
}

// verifyToken checks that a purpose-scoped token for a given User is valid.
func verifyToken(usr User, token, purpose string) error {
	if token == "" {
		return errInvalidToken
	}

	parts := strings.SplitN(token, "-", 2)
	if len(parts) < 2 {
		return errInvalidToken
	}
	tsB32 := parts[0]

	data, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(tsB32)
	if err != nil {
		return errInvalidToken
	}
	ts, err := strconv.Atoi(string(data))
	if err != nil {
		return errInvalidToken
	}

	// check that token has not been tampered with
	newToken := makeTokenWithTimestamp(usr, purpose, ts)
	if subtle.ConstantTimeCompare([]byte(newToken), []byte(token)) == 0 {
		return errInvalidToken
	}

	// check that the timestamp is within limit
	_, timeout := tokenConf(purpose)
	if (numDaysSince2001(time.Now()) - ts) > int(timeout/(24*time.Hour)) {
		return errTokenExpired
	}
	return nil
}

func makeTokenWithTimestamp(usr User, purpose string, ts int) string {
	tsB32 := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString([]byte(strconv.Itoa(ts)))
	return fmt.Sprintf("%s-%s", tsB32, sign(hashValue(usr, purpose, ts), purpose))
}

func numDaysSince2001(t time.Time) int {
	ref := time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
	return int(math.Ceil(t.Sub(ref).Hours() / 24))
}

func sign(val []byte, purpose string) string {
	secret, _ := tokenConf(purpose)
	key := sha256.Sum256(append(salt, secret...))
	h := hmac.New(sha256.New, key[:])
	_, _ = h.Write(val)
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func hashValue(usr User, purpose string, ts int) []byte {
	var val bytes.Buffer
	val.WriteString(purpose)
	val.WriteString(usr.ID)
	val.Write(usr.PasswordHash)
	if purpose == purposeEmailVerification {
		val.WriteString(usr.Email)
		val.WriteString(strconv.FormatBool(usr.IsVerified))
	} else if !usr.LastLogin.IsZero() {
		val.WriteString(usr.LastLogin.String())
	}
	val.WriteString(strconv.Itoa(ts))
	return val.Bytes()
}
