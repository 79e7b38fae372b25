package session

import (
	"fmt"
	"strconv"
	"strings"
)

// serialDigits is the number of hex digits in a device serial number (MAC-48).
const serialDigits = 12

// SerialToInt converts a hex serial number (MAC form, with or without
// separators) to its integer encoding. Returns 0 for unparseable input;
// callers treat 0 as "no device identity".
func SerialToInt(serial string) uint64 {
	s := strings.ToLower(serial)
	s = strings.ReplaceAll(s, ":", "")
	s = strings.ReplaceAll(s, "-", "")
	if s == "" || len(s) > serialDigits {
		return 0
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0
	}
	return v
}

// IntToSerial converts an integer-encoded serial number back to its
// canonical 12-digit lowercase hex form.
func IntToSerial(serial uint64) string {
	return fmt.Sprintf("%012x", serial)
}

// ValidSerial reports whether a serial number string is a valid 12-digit
// hex identifier after separator stripping.
func ValidSerial(serial string) bool {
	s := strings.ToLower(serial)
	s = strings.ReplaceAll(s, ":", "")
	s = strings.ReplaceAll(s, "-", "")
	if len(s) != serialDigits {
		return false
	}
	_, err := strconv.ParseUint(s, 16, 64)
	return err == nil
}
