package validator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	minSeverity = 1
	maxSeverity = 10
)

var registerOnce sync.Once

// Register installs the custom rules on gin's binding validator. It is safe to
// call more than once.
func Register() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = fmt.Errorf("unexpected binding engine %T", binding.Validator.Engine())
			return
		}
		err = RegisterRules(v)
	})
	return err
}

// RegisterRules adds trimmed_required and severity to v
func RegisterRules(v *validator.Validate) error {
	if err := v.RegisterValidation("trimmed_required", trimmedRequired); err != nil {
		return err
	}
	return v.RegisterValidation("severity", severity)
}

func trimmedRequired(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func severity(fl validator.FieldLevel) bool {
	n := fl.Field().Int()
	return n >= minSeverity && n <= maxSeverity
}

// Describe turns validator errors into a single client facing message
func Describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid request body"
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeField(fe))
	}
	return strings.Join(msgs, "; ")
}

func describeField(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required", "trimmed_required":
		return field + " is required"
	case "severity":
		return fmt.Sprintf("%s must be between %d and %d", field, minSeverity, maxSeverity)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "email":
		return field + " must be a valid email"
	case "e164":
		return field + " must be an E.164 phone number"
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
