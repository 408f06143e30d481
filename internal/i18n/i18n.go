// Package i18n provides internationalization support for user-facing messages
package i18n

import (
	"fmt"
)

const (
	// DefaultLanguage is the fallback language when no translation is available
	DefaultLanguage = "en"
	// RussianMessages is the Russian translation
	RussianMessages = "ru"
)

// Localizer provides translation functionality
type Localizer struct {
	language string
	messages map[string]string
}

// NewLocalizer creates a new localizer for the specified language
func NewLocalizer(language string) *Localizer {
	return &Localizer{
		language: language,
		messages: getMessages(language),
	}
}

// Language returns the language code the localizer was created with
func (l *Localizer) Language() string {
	return l.language
}

// T translates a message key, with optional parameters for formatting
func (l *Localizer) T(key string, args ...any) string {
	message, exists := l.messages[key]
	if !exists && l.language != DefaultLanguage {
		message, exists = getMessages(DefaultLanguage)[key]
	}
	if !exists {
		return key
	}

	if len(args) > 0 {
		return fmt.Sprintf(message, args...)
	}
	return message
}

// IsSupported reports whether language has its own message set
func IsSupported(language string) bool {
	for _, supported := range GetSupportedLanguages() {
		if supported == language {
			return true
		}
	}
	return false
}

// GetSupportedLanguages returns list of supported language codes
func GetSupportedLanguages() []string {
	return []string{DefaultLanguage, RussianMessages}
}

// getMessages returns the message map for a given language
func getMessages(language string) map[string]string {
	switch language {
	case RussianMessages:
		return russianMessages
	default:
		return englishMessages
	}
}
