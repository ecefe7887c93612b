package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	fields := make([]string, 0, len(validation.Fields))
	for _, f := range validation.Fields {
		fields = append(fields, f.Field)
	}
	return fields
}

func TestRegisterInputValidate(t *testing.T) {
	valid := RegisterInput{Name: "Alice Doe", Email: "alice@x.com", Password: "Secret1!"}
	require.NoError(t, valid.Validate())

	withUserRole := valid
	withUserRole.Role = "user"
	assert.NoError(t, withUserRole.Validate())

	cases := map[string]struct {
		input RegisterInput
		field string
	}{
		"short name":     {RegisterInput{Name: "A", Email: valid.Email, Password: valid.Password}, "name"},
		"digits in name": {RegisterInput{Name: "Alice 2", Email: valid.Email, Password: valid.Password}, "name"},
		"bad email":      {RegisterInput{Name: valid.Name, Email: "alice@", Password: valid.Password}, "email"},
		"long email":     {RegisterInput{Name: valid.Name, Email: strings.Repeat("a", 95) + "@x.com", Password: valid.Password}, "email"},
		"short password": {RegisterInput{Name: valid.Name, Email: valid.Email, Password: "Se1!"}, "password"},
		"no special":     {RegisterInput{Name: valid.Name, Email: valid.Email, Password: "Secret12"}, "password"},
		"no upper":       {RegisterInput{Name: valid.Name, Email: valid.Email, Password: "secret1!"}, "password"},
		"too long":       {RegisterInput{Name: valid.Name, Email: valid.Email, Password: "Aa1!" + strings.Repeat("x", 80)}, "password"},
		"admin role":     {RegisterInput{Name: valid.Name, Email: valid.Email, Password: valid.Password, Role: "admin"}, "role"},
		"manager role":   {RegisterInput{Name: valid.Name, Email: valid.Email, Password: valid.Password, Role: "Manager"}, "role"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.input.Validate()
			assert.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, fieldsOf(t, err), tc.field)
		})
	}
}

func TestLoginInputValidate(t *testing.T) {
	assert.NoError(t, LoginInput{Email: "a@b.io", Password: "x"}.Validate())
	assert.ElementsMatch(t, []string{"email", "password"}, fieldsOf(t, LoginInput{}.Validate()))
}

func TestProfileUpdateValidate(t *testing.T) {
	name := "Bob"
	bio := strings.Repeat("b", 501)
	assert.NoError(t, ProfileUpdate{Name: &name}.Validate())
	assert.NoError(t, ProfileUpdate{}.Validate())
	assert.Equal(t, []string{"bio"}, fieldsOf(t, ProfileUpdate{Bio: &bio}.Validate()))
}

func TestPasswordChangeValidate(t *testing.T) {
	assert.NoError(t, PasswordChange{CurrentPassword: "old", NewPassword: "NewSecret1!"}.Validate())
	assert.ElementsMatch(t, []string{"currentPassword", "newPassword"}, fieldsOf(t, PasswordChange{NewPassword: "weak"}.Validate()))
}
