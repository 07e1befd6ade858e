// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

const (
	phoneMinDigits = 12
	phoneMaxDigits = 13
)

// IsValidPhoneNumber проверяет номер мобильного платежа: только цифры,
// требуемый префикс региона и допустимая длина (например 254712345678).
func IsValidPhoneNumber(number, prefix string) bool {
	if number == "" || prefix == "" {
		return false
	}

	if len(number) < phoneMinDigits || len(number) > phoneMaxDigits {
		return false
	}

	for _, ch := range number {
		if !unicode.IsDigit(ch) {
			return false
		}
	}

	if len(number) < len(prefix) || number[:len(prefix)] != prefix {
		return false
	}

	return true
}
