package user

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/classnet/backend/core"
)

var (
	allRolesTag  = "allroles"
	allRolesText = "invalid roles"

	usernameOrEmailTag  = "username_or_email"
	usernameOrEmailText = "one of username or email is required"

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdMaxSim     = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to user attributes"

	nonAlphaNumRegex = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// RegisterValidators hooks the user-specific validators into the global
// validator. Must be called after core.InitValidators.
func RegisterValidators() {
	_ = core.Validate.RegisterValidation(allRolesTag, allRolesValidation)
	core.RegisterCustomTranslation(allRolesTag, allRolesText)

	core.Validate.RegisterStructValidation(userStructValidation, NewUser{})
	core.Validate.RegisterStructValidation(userStructValidation, UpdateUser{})
	core.RegisterCustomTranslation(usernameOrEmailTag, usernameOrEmailText)
	core.RegisterCustomTranslation(pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(pwdAttrSimTag, pwdAttrSimText)
}

// Custom Validators

// allRolesValidation checks that provided user roles are all in AllRoles
func allRolesValidation(fl validator.FieldLevel) bool {
	if roles, ok := fl.Field().Interface().([]string); ok {
		sort.Strings(AllRoles)
		for _, role := range roles {
			idx := sort.SearchStrings(AllRoles, role)
			if idx >= len(AllRoles) || AllRoles[idx] != role {
				return false
			}
		}
		return true
	}
	return false
}

// userStructValidation does struct level validation on NewUser and UpdateUser structs.
func userStructValidation(sl validator.StructLevel) {
	switch usr := sl.Current().Interface().(type) {
	case NewUser:
		validateUsernameAndEmail(usr, sl)
		validatePassword(usr.Password, sl, usr.Name, usr.Username, usr.Email)
	case UpdateUser:
		if usr.Password != "" {
			validatePassword(usr.Password, sl, usr.Name, usr.Username, usr.Email)
		}
	}
}

// validateUsernameAndEmail checks that one of Username or Email is provided
func validateUsernameAndEmail(nu NewUser, sl validator.StructLevel) {
	if nu.Username == "" && nu.Email == "" {
		sl.ReportError(nu.Username, "username", "Username", usernameOrEmailTag, "")
		sl.ReportError(nu.Email, "email", "Email", usernameOrEmailTag, "")
	}
}

// validatePassword applies the password policy.
func validatePassword(pwd string, sl validator.StructLevel, attrs ...string) {
	if len(pwd) < pwdMinLen {
		sl.ReportError(pwd, "password", "Password", pwdMinLenTag, "")
	}
	if strings.IndexFunc(pwd, unicode.IsSpace) >= 0 {
		sl.ReportError(pwd, "password", "Password", pwdNoSpaceTag, "")
	}
	if isAllNumeric(pwd) {
		sl.ReportError(pwd, "password", "Password", pwdNotAllNumTag, "")
	}
	if isSimilarToAttrs(pwd, attrs...) {
		sl.ReportError(pwd, "password", "Password", pwdAttrSimTag, "")
	}
}

func isAllNumeric(pwd string) bool {
	for _, r := range pwd {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return pwd != ""
}

// isSimilarToAttrs reports whether the password closely resembles any of the
// user's own attributes (name, username, email or parts thereof).
func isSimilarToAttrs(pwd string, attrs ...string) bool {
	pwd = strings.ToLower(pwd)
	for _, attr := range attrs {
		attr = strings.ToLower(strings.TrimSpace(attr))
		if attr == "" {
			continue
		}
		parts := nonAlphaNumRegex.Split(attr, -1)
		parts = append(parts, attr)
		for _, part := range parts {
			if len(part) < 4 {
				continue
			}
			m := difflib.NewMatcher(strings.Split(pwd, ""), strings.Split(part, ""))
			if m.QuickRatio() >= pwdMaxSim {
				return true
			}
		}
	}
	return false
}
