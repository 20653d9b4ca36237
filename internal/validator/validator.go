package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidEmail        = errors.New("invalid email")
	ErrInvalidUsername     = errors.New("invalid username")
	ErrInvalidPassword     = errors.New("password must be at least 8 characters")
	ErrInvalidName         = errors.New("invalid name")
	ErrInvalidPin          = errors.New("pin must be 4 to 6 digits")
	ErrInvalidReferralCode = errors.New("invalid referral code")
	ErrInvalidDestination  = errors.New("invalid withdrawal destination")
)

var (
	emailRegex        = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	usernameRegex     = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)
	pinRegex          = regexp.MustCompile(`^[0-9]{4,6}$`)
	referralCodeRegex = regexp.MustCompile(`^[A-Z0-9]{4,16}$`)
)

func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || len(trimmed) > 100 {
		return ErrInvalidName
	}
	return nil
}

func ValidatePin(pin string) error {
	if !pinRegex.MatchString(pin) {
		return ErrInvalidPin
	}
	return nil
}

// NormalizeReferralCode upper-cases and validates a referral code.
func NormalizeReferralCode(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if !referralCodeRegex.MatchString(normalized) {
		return "", ErrInvalidReferralCode
	}
	return normalized, nil
}

func ValidateDestination(destination string) error {
	trimmed := strings.TrimSpace(destination)
	if len(trimmed) < 4 || len(trimmed) > 255 {
		return ErrInvalidDestination
	}
	return nil
}
