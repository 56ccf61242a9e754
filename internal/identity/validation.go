package identity

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/fortec/gateway/internal/apperr"
)

const (
	maxNameLength  = 100
	maxEmailLength = 254
)

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRegistration(name, email string) error {
	switch {
	case name == "":
		return apperr.Validation("name", "Name is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		return apperr.Validation("name", "Name must be at most 100 characters")
	case email == "":
		return apperr.Validation("email", "Email is required")
	case len(email) > maxEmailLength:
		return apperr.Validation("email", "Email is too long")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return apperr.Validation("email", "Please provide a valid email")
	}
	return nil
}
