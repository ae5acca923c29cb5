package fanout

import (
	"fmt"
	"unicode/utf8"

	"github.com/converge/chat-app/internal/errs"
)

const (
	MaxContentBytes = 4096 // 4KB max frame size
	MaxContentChars = 2000 // max character count
)

// ValidateContent checks that message content meets the wire requirements.
func ValidateContent(content string) error {
	if len(content) == 0 {
		return fmt.Errorf("fanout: message content is empty: %w", errs.ErrValidation)
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("fanout: message exceeds %d byte limit: %w", MaxContentBytes, errs.ErrValidation)
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return fmt.Errorf("fanout: message exceeds %d character limit: %w", MaxContentChars, errs.ErrValidation)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("fanout: message contains invalid UTF-8: %w", errs.ErrValidation)
	}
	return nil
}
