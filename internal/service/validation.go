package service

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// secretSpecials is the set of characters that satisfy the special-character
// rule for protection secrets.
const secretSpecials = `!@#$%^&*()_+-=[]{}|;:,.<>?`

const minSecretLength = 8

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields under their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// ALLOW-PANIC: registration only fails for an empty tag
	if err := v.RegisterValidation("json_document", isJSONDocument); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("plan_secret", isStrongSecret); err != nil {
		panic(err)
	}
	return v
}

func isJSONDocument(fl validator.FieldLevel) bool {
	raw, ok := fl.Field().Interface().(json.RawMessage)
	if !ok {
		return false
	}
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null" && json.Valid(raw)
}

func isStrongSecret(fl validator.FieldLevel) bool {
	return secretProblem(fl.Field().String()) == ""
}

// secretProblem describes the first strength rule secret breaks, or returns
// the empty string for an acceptable secret.
func secretProblem(secret string) string {
	if len(secret) < minSecretLength {
		return "must be at least 8 characters long"
	}

	var lower, upper, digit, special bool
	for _, r := range secret {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(secretSpecials, r):
			special = true
		}
	}

	switch {
	case !lower:
		return "must contain at least one lowercase letter"
	case !upper:
		return "must contain at least one uppercase letter"
	case !digit:
		return "must contain at least one number"
	case !special:
		return "must contain at least one special character"
	}
	return ""
}

// toValidationError converts the first failure reported by the validator into
// a ValidationError.
func toValidationError(err error, req SubmitRequest) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return NewServiceError("submit", "failed to validate request", err)
	}

	fe := verrs[0]
	var message string
	switch fe.Tag() {
	case "required":
		message = "is required"
	case "email":
		message = "must be a valid email address"
	case "max":
		message = "must be at most " + fe.Param() + " characters long"
	case "json_document":
		message = "must be a non-empty JSON document"
	case "min", "plan_secret":
		message = secretProblem(req.Secret)
	default:
		message = "is invalid"
	}

	return &ValidationError{Field: fe.Field(), Message: message}
}
