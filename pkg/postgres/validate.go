package postgres

import (
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate

	gucPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
)

func specValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("pgname", func(fl validator.FieldLevel) bool {
			return validName(fl.Field().String())
		})
		_ = validate.RegisterValidation("guc", func(fl validator.FieldLevel) bool {
			return gucPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// validName rejects values that could be read as an option or break a psql
// variable assignment when passed on the command line.
func validName(s string) bool {
	if s == "" || len(s) > 255 || strings.HasPrefix(s, "-") {
		return false
	}
	return !strings.ContainsAny(s, "\x00\n\r")
}

// Validate checks names and settings before any command is composed.
func (s DatabaseSpec) Validate() error {
	if err := specValidator().Struct(s); err != nil {
		return NewInvalidSpecError("invalid database spec", err)
	}
	return nil
}

// Validate checks the role fields before any command is composed.
func (s RoleSpec) Validate() error {
	if err := specValidator().Struct(s); err != nil {
		return NewInvalidSpecError("invalid role spec", err)
	}
	return nil
}
