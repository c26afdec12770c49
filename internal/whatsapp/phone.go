package whatsapp

import (
	"errors"
	"strings"
)

// defaultCountryCode is prepended to local numbers without an international
// prefix. The customer base is primarily Gabonese.
const defaultCountryCode = "241"

// FormatRecipient normalizes a phone number into the gateway's JID form:
// digits only, international prefix, "@s.whatsapp.net" suffix.
//
//	"+241 07 12 34 56" -> "24107123456@s.whatsapp.net"
//	"071234567"        -> "24171234567@s.whatsapp.net" (leading zeros stripped)
func FormatRecipient(phone, countryCode string) (string, error) {
	if countryCode == "" {
		countryCode = defaultCountryCode
	}

	var b strings.Builder
	hasPlus := false
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			hasPlus = true
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separators are ignored
		default:
			return "", errors.New("phone number contains invalid characters")
		}
	}

	digits := b.String()
	if !hasPlus {
		digits = countryCode + strings.TrimLeft(digits, "0")
	}

	if len(digits) < 8 {
		return "", errors.New("phone number too short")
	}

	return digits + "@s.whatsapp.net", nil
}
