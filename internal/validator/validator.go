package validator

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrInvalidMeterNumber = errors.New("invalid meter number")
)

var (
	phoneRegex = regexp.MustCompile(`^(?:\+?234|0)[789][01]\d{8}$`)
	meterRegex = regexp.MustCompile(`^\d{6,13}$`)
)

func ValidatePhone(phone string) error {
	if !phoneRegex.MatchString(NormalizePhone(phone)) {
		return ErrInvalidPhone
	}
	return nil
}

// NormalizePhone drops spaces and dashes users paste in.
func NormalizePhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
}

func ValidateMeterNumber(meter string) error {
	if !meterRegex.MatchString(strings.TrimSpace(meter)) {
		return ErrInvalidMeterNumber
	}
	return nil
}

var (
	once     sync.Once
	validate *validator.Validate
)

func engine() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			return ValidatePhone(fl.Field().String()) == nil
		})
		_ = validate.RegisterValidation("meter", func(fl validator.FieldLevel) bool {
			return ValidateMeterNumber(fl.Field().String()) == nil
		})
	})
	return validate
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Struct validates request bodies tagged with `validate:"..."` and returns
// the failures keyed by JSON field name.
func Struct(v any) []FieldError {
	err := engine().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "phone":
		return "Invalid phone number"
	case "meter":
		return "Meter number must be 6 to 13 digits"
	case "oneof":
		return "Must be one of: " + fe.Param()
	case "max":
		return "Must be at most " + fe.Param() + " characters"
	case "min":
		return "Must be at least " + fe.Param() + " characters"
	default:
		return "Invalid value"
	}
}
