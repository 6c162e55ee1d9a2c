package notify

import (
	"fmt"
	"strings"
)

// DefaultCountryCode is prepended to bare national numbers. The shop's
// customers are Italian; a 10-digit number without prefix is treated as an
// Italian mobile.
const DefaultCountryCode = "39"

const nationalNumberLength = 10

// NormalizePhone canonicalises a raw phone number to +<digits> form: strip
// everything that is not a digit, then prepend the default country code when
// the remainder is a bare national number.
func NormalizePhone(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	n := digits.String()
	if len(n) < nationalNumberLength {
		return "", fmt.Errorf("phone number %q too short", raw)
	}
	if len(n) == nationalNumberLength {
		n = DefaultCountryCode + n
	}
	return "+" + n, nil
}

// WhatsAppAddress returns the Twilio WhatsApp address for a canonical phone
// number.
func WhatsAppAddress(canonical string) string {
	return "whatsapp:" + canonical
}
