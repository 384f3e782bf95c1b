package beacon

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate
var once sync.Once

// ValidationError reports one configuration field that failed validation.
type ValidationError struct {
	// Field is the dotted configuration path, e.g. "file.max_bytes".
	Field string
	Value any
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("beacon: invalid value %v for field %q (%s)", e.Value, e.Field, e.Rule)
}

func configValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("koanf"), ",")
			if name == "-" || name == emptyString {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// validateConfig normalizes cfg in place and checks every field. The returned
// error wraps one *ValidationError per failing field.
func validateConfig(cfg *LogConfig) error {
	if cfg == nil {
		return ErrNilConfig
	}
	cfg.normalize()

	var problems []error
	if err := configValidator().Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			problems = append(problems, &ValidationError{
				Field: fieldPath(fe.Namespace()),
				Value: fe.Value(),
				Rule:  fe.Tag(),
			})
		}
	}
	if cfg.File.Enabled && cfg.filePath() == emptyString {
		problems = append(problems, &ValidationError{Field: "file.directory", Value: cfg.File.Directory, Rule: "required"})
	}

	return errors.Join(problems...)
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
