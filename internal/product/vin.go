package product

import (
	"regexp"
	"strings"
)

const vinLength = 17

var vinWeights = [vinLength]int{8, 7, 6, 5, 4, 3, 2, 10, 0, 9, 8, 7, 6, 5, 4, 3, 2}

// World manufacturer prefixes that belong to motorcycle builders.
var motorcyclePrefixes = map[string]struct{}{
	"1HD": {}, "5HD": {}, "JH2": {}, "JYA": {}, "JKA": {}, "JS1": {},
	"ZDM": {}, "WB1": {}, "SMT": {}, "56K": {}, "5F7": {}, "VBK": {},
	"ML0": {}, "JKB": {}, "ZAP": {}, "RFB": {},
}

var vinToken = regexp.MustCompile(`(?i)\b[A-HJ-NPR-Z0-9]{17}\b`)

func vinValue(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'A' && c <= 'H':
		return int(c-'A') + 1, true
	case c >= 'J' && c <= 'N':
		return int(c-'J') + 1, true
	case c == 'P':
		return 7, true
	case c == 'R':
		return 9, true
	case c >= 'S' && c <= 'Z':
		return int(c-'S') + 2, true
	default:
		return 0, false
	}
}

// LooksLikeVIN reports whether s has VIN shape: 17 characters from the VIN alphabet
// with at least one letter and one digit. It does not check the check digit.
func LooksLikeVIN(s string) bool {
	if len(s) != vinLength {
		return false
	}
	var letters, digits int
	for i := 0; i < len(s); i++ {
		c := upper(s[i])
		if _, ok := vinValue(c); !ok {
			return false
		}
		if c >= '0' && c <= '9' {
			digits++
		} else {
			letters++
		}
	}
	return letters > 0 && digits > 0
}

// IsValidVIN accepts a passenger-vehicle VIN whose ISO 3779 check digit matches.
func IsValidVIN(vin string) bool {
	if len(vin) != vinLength {
		return false
	}
	vin = strings.ToUpper(vin)
	if repeatedDigit(vin) {
		return false
	}
	if _, moto := motorcyclePrefixes[vin[:3]]; moto {
		return false
	}
	sum := 0
	for i := 0; i < vinLength; i++ {
		v, ok := vinValue(vin[i])
		if !ok {
			return false
		}
		sum += v * vinWeights[i]
	}
	check := byte('0' + sum%11)
	if sum%11 == 10 {
		check = 'X'
	}
	return vin[8] == check
}

// ScanVIN returns the first check-digit-valid VIN found in text, upper-cased.
func ScanVIN(text string) string {
	for _, candidate := range vinToken.FindAllString(text, -1) {
		if IsValidVIN(candidate) {
			return strings.ToUpper(candidate)
		}
	}
	return ""
}

func repeatedDigit(vin string) bool {
	first := vin[0]
	if first < '0' || first > '9' {
		return false
	}
	return strings.Count(vin, string(first)) == vinLength
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
