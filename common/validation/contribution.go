package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Contribution length bounds in runes. The lower bound rejects empty or
// whitespace-only submissions; the upper bound keeps each relay turn to
// roughly a paragraph so no single student dominates the story.
const (
	MinContributionRunes = 1
	MaxContributionRunes = 1000
)

// ContributionValidator validates student story text before it enters
// the session queue
type ContributionValidator struct {
	maxRunes int
}

// NewContributionValidator creates a validator with the default bounds
func NewContributionValidator() *ContributionValidator {
	return &ContributionValidator{maxRunes: MaxContributionRunes}
}

// Validate checks a single contribution
func (v *ContributionValidator) Validate(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("contribution validation failed: text is empty")
	}

	if !utf8.ValidString(text) {
		return fmt.Errorf("contribution validation failed: text is not valid UTF-8")
	}

	runes := utf8.RuneCountInString(trimmed)
	if runes > v.maxRunes {
		return fmt.Errorf("contribution validation failed: %d characters exceeds the %d character limit", runes, v.maxRunes)
	}

	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return fmt.Errorf("contribution validation failed: text contains control characters")
		}
	}

	return nil
}
