// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxIDLength = 64

	// MaxPrice задаёт верхнюю границу ставки. Выше неё дробная часть ранжирующего веса теряет точность.
	MaxPrice int64 = 1_000_000_000

	// MaxMessageLength задаёт максимальную длину сообщения чата в символах.
	MaxMessageLength = 300
)

// IsValidID проверяет идентификатор аукциона или лота.
func IsValidID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}

	for _, ch := range id {
		if ch > unicode.MaxASCII {
			return false
		}
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '-' && ch != '_' {
			return false
		}
	}

	return true
}

// IsValidPrice проверяет цену ставки или стартовую цену.
func IsValidPrice(price int64) bool {
	return price > 0 && price <= MaxPrice
}

// IsValidMessage проверяет текст сообщения чата до очистки.
func IsValidMessage(text string) bool {
	if strings.TrimSpace(text) == "" || !utf8.ValidString(text) {
		return false
	}
	return utf8.RuneCountInString(text) <= MaxMessageLength
}
