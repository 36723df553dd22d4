package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	validate       *validator.Validate
	backendIDRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their YAML names.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("dn", validateDN)
	_ = validate.RegisterValidation("backendid", func(fl validator.FieldLevel) bool {
		return backendIDRegex.MatchString(fl.Field().String())
	})
}

// validateDN requires a parsable, non-root DN.
func validateDN(fl validator.FieldLevel) bool {
	d, err := dn.Parse(fl.Field().String())
	return err == nil && !d.IsRoot()
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	errs := structErrors(validate.Struct(config), "")

	seenIDs := make(map[string]bool)
	seenBases := make(map[string]string)
	for i, b := range config.Backends {
		if b.ID != "" {
			if seenIDs[b.ID] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("backends[%d].id", i),
					Message: fmt.Sprintf("duplicate backend id %q", b.ID),
				})
			}
			seenIDs[b.ID] = true
		}
		for j, base := range b.BaseDNs {
			d, err := dn.Parse(base)
			if err != nil {
				continue
			}
			if owner, ok := seenBases[d.Key()]; ok {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("backends[%d].baseDNs[%d]", i, j),
					Message: fmt.Sprintf("base DN %q is already served by backend %q", base, owner),
				})
				continue
			}
			seenBases[d.Key()] = b.ID
		}
	}

	return errs
}

// ValidateBackend validates a single backend configuration.
func ValidateBackend(b *BackendConfig) []error {
	if b == nil {
		return []error{ValidationError{Field: "backend", Message: "configuration is required"}}
	}
	return structErrors(validate.Struct(b), "")
}

func structErrors(err error, prefix string) []error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []error{ValidationError{Field: prefix, Message: err.Error()}}
	}

	out := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		// Drop the root struct name.
		if idx := strings.IndexByte(field, '.'); idx >= 0 {
			field = field[idx+1:]
		}
		out = append(out, ValidationError{
			Field:   prefix + field,
			Message: describe(fe),
		})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "dn":
		return fmt.Sprintf("invalid DN %q", fe.Value())
	case "backendid":
		return "must start with a letter and contain only letters, digits, '-' or '_'"
	case "hostname_port":
		return fmt.Sprintf("invalid address %q", fe.Value())
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
