// Package phone normalises phone numbers for SMS delivery.
package phone

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/ttacon/libphonenumber"
)

// DefaultRegion is used when the caller does not supply one.
const DefaultRegion = "IN"

var (
	ErrEmpty   = errors.New("phone number is empty")
	ErrInvalid = errors.New("phone number is not valid")
)

// ToE164 converts raw input to E.164. Numbers already starting with + keep their
// country code; bare national numbers get the region's code, so a ten digit
// Indian number becomes +91XXXXXXXXXX and 91XXXXXXXXXX gains the plus sign.
func ToE164(raw, region string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmpty
	}
	if region == "" {
		region = DefaultRegion
	}

	digits := onlyDigits(trimmed)
	candidate := trimmed
	if !strings.HasPrefix(trimmed, "+") && region == DefaultRegion && len(digits) == 12 && strings.HasPrefix(digits, "91") {
		candidate = "+" + digits
	}

	num, err := libphonenumber.Parse(candidate, region)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", ErrInvalid
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

// Mask hides all but the last four digits, for logs.
func Mask(number string) string {
	digits := onlyDigits(number)
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
