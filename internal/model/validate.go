package model

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

const (
	NameSigil       = "@"
	MinNameLength   = 3
	MaxNameLength   = 32
	MaxRoomIDLength = 256
)

var (
	displayNamePattern = regexp.MustCompile(`^@[A-Za-z0-9_.\-]+$`)
	roomIDPattern      = regexp.MustCompile(`^[A-Za-z0-9_.:+/=\-]+$`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("displayname", func(fl validator.FieldLevel) bool {
		return displayNamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("roomid", func(fl validator.FieldLevel) bool {
		return roomIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validator returns the shared validator with the displayname and roomid
// tags registered, for request structs outside this package.
func Validator() *validator.Validate {
	return validate
}

// ValidateDisplayName enforces the sigil, length and character-set rule.
func ValidateDisplayName(name string) error {
	rule := fmt.Sprintf("required,min=%d,max=%d,displayname", MinNameLength, MaxNameLength)
	if err := validate.Var(name, rule); err != nil {
		return fmt.Errorf("%w: %q must start with %s, be %d-%d characters and use letters, digits, '.', '_' or '-'",
			ErrInvalidName, name, NameSigil, MinNameLength, MaxNameLength)
	}
	return nil
}

func ValidateRoomID(roomID string) error {
	rule := fmt.Sprintf("required,max=%d,roomid", MaxRoomIDLength)
	if err := validate.Var(roomID, rule); err != nil {
		return fmt.Errorf("%w: malformed room id", ErrInvalidInput)
	}
	return nil
}
