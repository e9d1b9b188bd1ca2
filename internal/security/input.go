// Package security validates free text entered by the user before it is stored.
package security

import (
	"errors"
	"unicode"
	"unicode/utf8"
)

var (
	ErrTextTooLong       = errors.New("text exceeds maximum length")
	ErrInvalidEncoding   = errors.New("text is not valid UTF-8")
	ErrControlCharacter  = errors.New("control character in text")
	ErrRepetitiveContent = errors.New("excessive repetition detected")
)

// TextValidator bounds a free-text field such as an intake comment
type TextValidator struct {
	MaxRunes      int
	MaxRepetition int
}

func NewCommentValidator() *TextValidator {
	return &TextValidator{
		MaxRunes:      1000,
		MaxRepetition: 64,
	}
}

// Validate accepts empty text. Newlines and tabs are allowed, other control characters are not.
func (v *TextValidator) Validate(text string) error {
	if text == "" {
		return nil
	}
	if !utf8.ValidString(text) {
		return ErrInvalidEncoding
	}
	if v.MaxRunes > 0 && utf8.RuneCountInString(text) > v.MaxRunes {
		return ErrTextTooLong
	}

	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return ErrControlCharacter
		}
	}

	if v.MaxRepetition > 0 && hasExcessiveRepetition(text, v.MaxRepetition) {
		return ErrRepetitiveContent
	}
	return nil
}

func hasExcessiveRepetition(text string, maxRun int) bool {
	run := 0
	var prev rune = -1
	for _, r := range text {
		if r == prev {
			run++
			if run > maxRun {
				return true
			}
			continue
		}
		prev, run = r, 1
	}
	return false
}

var commentValidator = NewCommentValidator()

// ValidateComment checks an intake comment with the default limits
func ValidateComment(text string) error {
	return commentValidator.Validate(text)
}
