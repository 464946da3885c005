package domain

import (
	"fmt"
	"strings"
)

// MaxQuestionLen bounds inbound question length.
const MaxQuestionLen = 2000

// ValidateQuestion checks an inbound question before it enters the pipeline.
func ValidateQuestion(q string) error {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return fmt.Errorf("validate: %w", ErrQueryEmpty)
	}
	if len(trimmed) > MaxQuestionLen {
		return fmt.Errorf("validate: %w (len=%d)", ErrQueryTooLong, len(trimmed))
	}
	return nil
}

// ValidateRole checks a conversation turn role.
func ValidateRole(r Role) error {
	switch r {
	case RoleUser, RoleAssistant:
		return nil
	}
	return fmt.Errorf("validate: unknown role %q", r)
}
