package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	nameRegex  = regexp.MustCompile(`^[a-zA-Z\s]+$`)
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)
)

const (
	minNameLength     = 2
	maxNameLength     = 50
	maxEmailLength    = 100
	minPasswordLength = 8
	maxPasswordLength = 72
	maxBioLength      = 500
	passwordSpecials  = "@$!%*?&"
)

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

func (in RegisterInput) Validate() error {
	v := &ValidationError{}
	validateName(v, in.Name)
	validateEmail(v, in.Email)
	validatePassword(v, "password", in.Password)
	// Callers may only ask for the default role; privileged roles are granted
	// by an administrator.
	if role := strings.TrimSpace(in.Role); role != "" && Role(strings.ToLower(role)) != RoleUser {
		v.add("role", "role cannot be self-assigned")
	}
	return v.orNil()
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in LoginInput) Validate() error {
	v := &ValidationError{}
	validateEmail(v, in.Email)
	if in.Password == "" {
		v.add("password", "password is required")
	}
	return v.orNil()
}

type ProfileUpdate struct {
	Name   *string `json:"name,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
	Bio    *string `json:"bio,omitempty"`
	Phone  *string `json:"phone,omitempty"`
}

func (in ProfileUpdate) Validate() error {
	v := &ValidationError{}
	if in.Name != nil {
		validateName(v, *in.Name)
	}
	if in.Bio != nil && utf8.RuneCountInString(*in.Bio) > maxBioLength {
		v.add("bio", "bio cannot exceed 500 characters")
	}
	if in.Phone != nil && len(strings.TrimSpace(*in.Phone)) > 32 {
		v.add("phone", "phone is too long")
	}
	return v.orNil()
}

type PasswordChange struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (in PasswordChange) Validate() error {
	v := &ValidationError{}
	if in.CurrentPassword == "" {
		v.add("currentPassword", "current password is required")
	}
	validatePassword(v, "newPassword", in.NewPassword)
	return v.orNil()
}

func validateName(v *ValidationError, name string) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	switch {
	case n < minNameLength:
		v.add("name", "name must be at least 2 characters")
	case n > maxNameLength:
		v.add("name", "name cannot exceed 50 characters")
	case !nameRegex.MatchString(name):
		v.add("name", "name can only contain letters and spaces")
	}
}

func validateEmail(v *ValidationError, email string) {
	email = strings.TrimSpace(email)
	switch {
	case email == "":
		v.add("email", "email is required")
	case len(email) > maxEmailLength:
		v.add("email", "email cannot exceed 100 characters")
	case !emailRegex.MatchString(email):
		v.add("email", "invalid email address")
	default:
		if _, err := mail.ParseAddress(email); err != nil {
			v.add("email", "invalid email address")
		}
	}
}

func validatePassword(v *ValidationError, field, password string) {
	if len(password) < minPasswordLength {
		v.add(field, "password must be at least 8 characters")
		return
	}
	if len(password) > maxPasswordLength {
		v.add(field, "password cannot exceed 72 bytes")
		return
	}

	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	if !lower || !upper || !digit || !special {
		v.add(field, "password must contain a lowercase letter, an uppercase letter, a number and a special character")
	}
}
