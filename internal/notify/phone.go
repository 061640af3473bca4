package notify

import "strings"

// NormalizePhone formats a phone number to E.164. Ten-digit numbers are
// assumed US and get a +1 prefix; eleven-digit numbers starting with 1 get
// a + prefix; numbers already carrying + pass through unchanged.
func NormalizePhone(phone string) string {
	if strings.HasPrefix(strings.TrimSpace(phone), "+") {
		return strings.TrimSpace(phone)
	}

	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case len(d) == 10:
		return "+1" + d
	case len(d) == 11 && strings.HasPrefix(d, "1"):
		return "+" + d
	default:
		return "+" + d
	}
}
