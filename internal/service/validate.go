package service

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pliu/quasar-chat/internal/apperr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type newUserRules struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,max=72"`
}

type userPatchRules struct {
	Email    string `validate:"omitempty,email,max=254"`
	Password string `validate:"omitempty,max=72"`
}

// validationError turns validator failures into one ValidationError naming
// the first offending field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Validation("invalid data")
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return apperr.Validation("%s is required", field)
	case "email":
		return apperr.Validation("%s must be a valid email address", field)
	case "max":
		return apperr.Validation("%s must be at most %s characters", field, fe.Param())
	default:
		return apperr.Validation("%s is invalid", field)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// bcrypt rejects passwords longer than this many bytes.
const maxPasswordBytes = 72

// checkPasswordBytes enforces the bcrypt input limit, which the rune-counting
// max tag does not cover for multibyte passwords.
func checkPasswordBytes(password string) error {
	if len(password) > maxPasswordBytes {
		return apperr.Validation("password must be at most %d bytes", maxPasswordBytes)
	}
	return nil
}
