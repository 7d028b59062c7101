package validation

import (
	"errors"
)

// ValidatePassword validates password length
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	// Maximum length: 72 bytes (bcrypt limitation)
	// bcrypt silently truncates passwords longer than 72 bytes, which is a security risk
	if len(password) > 72 {
		return errors.New("password must not exceed 72 characters")
	}

	return nil
}
