package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits")

	// ErrInvalidLength indicates the national number is not 10 digits
	ErrInvalidLength = errors.New("phone number must be exactly 10 digits")

	// ErrInvalidPrefix indicates phone number doesn't start with a Sri Lankan mobile prefix
	ErrInvalidPrefix = errors.New("phone number must start with 070, 071, 072, 074, 075, 076, 077, 078, or 079")
)

// CountryCode is prepended to national numbers when normalizing
const CountryCode = "94"

// mobilePrefixes contains all valid Sri Lankan mobile operator prefixes
var mobilePrefixes = []string{"070", "071", "072", "074", "075", "076", "077", "078", "079"}

var digitsOnly = regexp.MustCompile(`^\d+$`)

// PhoneValidator normalizes booking contact numbers
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Normalize validates a Sri Lankan mobile number and returns it in E.164
// form (+94XXXXXXXXX). Accepts 0771234567, 077 123 4567, 077-123-4567,
// 94771234567 and +94771234567.
func (v *PhoneValidator) Normalize(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	national := v.Sanitize(phone)
	if !digitsOnly.MatchString(national) {
		return "", ErrInvalidFormat
	}
	if len(national) != 10 {
		return "", ErrInvalidLength
	}
	if !v.IsValidPrefix(national) {
		return "", ErrInvalidPrefix
	}

	return "+" + CountryCode + national[1:], nil
}

// NormalizeOptional normalizes p in place when it is set and non-blank
func (v *PhoneValidator) NormalizeOptional(p *string) error {
	if p == nil || strings.TrimSpace(*p) == "" {
		return nil
	}
	normalized, err := v.Normalize(*p)
	if err != nil {
		return err
	}
	*p = normalized
	return nil
}

// Sanitize strips separators and rewrites a leading country code to the
// national 0 prefix
func (v *PhoneValidator) Sanitize(phone string) string {
	phone = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "", ".", "").Replace(phone)

	if strings.HasPrefix(phone, CountryCode) && len(phone) == 11 {
		phone = "0" + phone[2:]
	}
	return phone
}

// IsValidPrefix checks if a national number has a valid mobile prefix
func (v *PhoneValidator) IsValidPrefix(national string) bool {
	if len(national) < 3 {
		return false
	}
	prefix := national[:3]
	for _, valid := range mobilePrefixes {
		if prefix == valid {
			return true
		}
	}
	return false
}
