package leads

import (
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizePhone converts raw into E.164 form ("+<country><national>").
//
// An explicit "+" or "00" prefix is kept as given. Otherwise the number is
// read in the region of defaultCC (a calling code such as "57"), which also
// accepts numbers that already carry that code or a trunk "0"; failing that
// it is read as international. Numbers neither reading validates are kept
// when their length is possible for the region, or else as international.
func NormalizePhone(raw, defaultCC string) (string, error) {
	s := strings.TrimSpace(raw)
	// WhatsApp JIDs: "573001234567:12@s.whatsapp.net"
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}

	explicit := strings.HasPrefix(s, "+")
	digits := onlyDigits(s)
	if !explicit && strings.HasPrefix(digits, "00") {
		digits = digits[2:]
		explicit = true
	}
	if len(digits) < 7 || len(digits) > 15 {
		return "", ErrInvalidPhone
	}

	international, intlErr := phonenumbers.Parse("+"+digits, unknownRegion)
	if explicit {
		if intlErr != nil || !phonenumbers.IsPossibleNumber(international) {
			return "", ErrInvalidPhone
		}
		return e164(international), nil
	}

	local, localErr := phonenumbers.Parse(digits, regionFor(defaultCC))
	switch {
	case localErr == nil && phonenumbers.IsValidNumber(local):
		return e164(local), nil
	case intlErr == nil && phonenumbers.IsValidNumber(international):
		return e164(international), nil
	case localErr == nil && phonenumbers.IsPossibleNumber(local):
		return e164(local), nil
	case intlErr == nil && len(digits) >= 8 && phonenumbers.IsPossibleNumber(international):
		return e164(international), nil
	}
	return "", ErrInvalidPhone
}

const unknownRegion = "ZZ"

// regionFor maps a calling code to its main region, or unknownRegion.
func regionFor(callingCode string) string {
	cc, err := strconv.Atoi(callingCode)
	if err != nil {
		return unknownRegion
	}
	return phonenumbers.GetRegionCodeForCountryCode(cc)
}

func e164(n *phonenumbers.PhoneNumber) string {
	return phonenumbers.Format(n, phonenumbers.E164)
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
