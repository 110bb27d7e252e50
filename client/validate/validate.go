// Package validate checks and normalizes user-supplied credentials,
// primarily phone numbers.
package validate

import (
	"strings"

	"github.com/nyaruka/phonenumbers"

	t "github.com/letschat/letschat/client/store/types"
)

// phone separators tolerated on input and stripped on normalization.
const separators = "-() ."

// NormalizePhone strips common separators and a leading "+" from a
// phone number. The result of a successful normalization contains
// digits only; numbers are stored and compared in this form.
func NormalizePhone(number string) (string, error) {
	var b strings.Builder
	for i, r := range number {
		if r == '+' && i == 0 {
			continue
		}
		if strings.ContainsRune(separators, r) {
			continue
		}
		if r < '0' || r > '9' {
			return "", t.ErrMalformed
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "", t.ErrMalformed
	}
	return b.String(), nil
}

// FormatPhone renders a normalized number for display in international
// format. Numbers which do not parse as real phone numbers are
// returned unchanged.
func FormatPhone(number, region string) string {
	if region == "" {
		region = "US"
	}
	parsed, err := phonenumbers.Parse(number, region)
	if err != nil || !phonenumbers.IsPossibleNumber(parsed) {
		return number
	}
	return phonenumbers.Format(parsed, phonenumbers.INTERNATIONAL)
}
