package accounts

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/nyaruka/phonenumbers"
)

const (
	MinPasswordLength  = 8
	maxPasswordLength  = 128
	defaultPhoneRegion = "US"
)

var orcidPattern = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{3}[\dX]$`)

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("passwords don't match")
		}
		return nil
	}
}

// ValidateAccepted requires a boolean to be true
func ValidateAccepted(message string) validation.RuleFunc {
	return func(value any) error {
		accepted, _ := value.(bool)
		if !accepted {
			return errors.New(message)
		}
		return nil
	}
}

// ValidatePhoneNumber accepts empty values and numbers phonenumbers
// considers valid for the default region.
func ValidatePhoneNumber(value any) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := NormalizePhoneNumber(s); err != nil {
		return errors.New("enter a valid phone number")
	}
	return nil
}

// NormalizePhoneNumber parses the number and formats it as E.164.
func NormalizePhoneNumber(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	num, err := phonenumbers.Parse(raw, defaultPhoneRegion)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("invalid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

var orcidRule = validation.Match(orcidPattern).Error("enter a valid ORCID iD (0000-0000-0000-0000)")

func passwordRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Length(MinPasswordLength, maxPasswordLength).
			Error("ensure this field has at least 8 characters"),
	}
}
