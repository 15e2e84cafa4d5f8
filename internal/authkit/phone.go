package authkit

import (
	"fmt"
	"strings"
)

// DomesticCountryCode is prefixed to bare local numbers.
const DomesticCountryCode = "+91"

const (
	domesticNumberLength = 10
	minimumE164Digits    = 8
	maximumE164Digits    = 15
)

// NormalizePhone converts a phone number to E.164. Bare 10-digit numbers are treated as domestic.
// Already-normalized numbers are returned unchanged.
func NormalizePhone(rawPhone string) (string, error) {
	compact := strings.Map(func(character rune) rune {
		switch character {
		case ' ', '-', '(', ')', '.', '\t':
			return -1
		}
		return character
	}, rawPhone)
	if compact == "" {
		return "", fmt.Errorf("phone.normalize: %w", ErrInvalidPhoneFormat)
	}
	if strings.HasPrefix(compact, "+") {
		digits := compact[1:]
		if !allDigits(digits) || len(digits) < minimumE164Digits || len(digits) > maximumE164Digits || digits[0] == '0' {
			return "", fmt.Errorf("phone.normalize: %w", ErrInvalidPhoneFormat)
		}
		return compact, nil
	}
	if len(compact) == domesticNumberLength && allDigits(compact) {
		return DomesticCountryCode + compact, nil
	}
	return "", fmt.Errorf("phone.normalize: %w", ErrInvalidPhoneFormat)
}

func allDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, character := range value {
		if character < '0' || character > '9' {
			return false
		}
	}
	return true
}
