// Package serial validates device serial numbers of the form
//
//	XXXX-YYYYYYYYYYYYYYYYYYYYYYYY|ZZ
//
// where XXXX is the 4-character catalog id, Y…Y is the 24-character chip id
// and ZZ is the CRC8 checksum of "XXXX-Y…Y" in upper-case hex.
package serial

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrBadFormat   = errors.New("serial number does not match XXXX-Y…Y|ZZ format")
	ErrBadChecksum = errors.New("serial number checksum mismatch")
)

var serialPattern = regexp.MustCompile(`^[0-9A-Z]{4}-[0-9A-Z]{24}\|[0-9A-F]{2}$`)

// Validate normalizes raw to upper case and verifies format and checksum.
// It returns the normalized serial number, or an error describing the first
// check that failed.
func Validate(raw string) (string, error) {
	normalized := strings.ToUpper(raw)
	if !serialPattern.MatchString(normalized) {
		return "", ErrBadFormat
	}

	idPart, crcPart, _ := strings.Cut(normalized, "|")
	if Checksum(idPart) != crcPart {
		return "", ErrBadChecksum
	}
	return normalized, nil
}

// CatalogID returns the 4-character catalog id prefix of a validated serial
// number.
func CatalogID(sn string) string {
	if len(sn) < 4 {
		return ""
	}
	return sn[:4]
}

// Checksum computes the CRC8 (polynomial 0x8C, bit-reversed, init 0) of s
// and formats it as two upper-case hex digits.
func Checksum(s string) string {
	var crc byte
	for i := 0; i < len(s); i++ {
		b := s[i]
		for j := 0; j < 8; j++ {
			sum := (crc ^ b) & 0x01
			crc >>= 1
			if sum != 0 {
				crc ^= 0x8C
			}
			b >>= 1
		}
	}
	return fmt.Sprintf("%02X", crc)
}
