package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Rule identifiers carried by RuleViolationError.
const (
	RuleEmpty                = "EMPTY"
	RuleStartsWithUsername   = "STARTS_WITH_USERNAME"
	RuleTooShort             = "TOO_SHORT"
	RuleTooLong              = "TOO_LONG"
	RuleNumbersAndLetters    = "NUMBERS_AND_LETTERS"
	RuleNotUniqueBeforeReuse = "NOT_UNIQUE_BEFORE_REUSE"
)

// RuleViolationError reports the first password rule a candidate failed,
// with the parameters a caller needs to format a message.
type RuleViolationError struct {
	Rule   string
	Params map[string]any
}

func (e *RuleViolationError) Error() string {
	return fmt.Sprintf("password rule violated: %s", e.Rule)
}

// Violation builds a RuleViolationError from rule id and key/value pairs.
func Violation(rule string, kv ...any) *RuleViolationError {
	params := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			params[key] = kv[i+1]
		}
	}
	return &RuleViolationError{Rule: rule, Params: params}
}

var (
	ErrOwnerRequired     = errors.New("user_has_no_owner")
	ErrNoCurrentPassword = errors.New("no_current_password")
	ErrUserLocked        = errors.New("user_locked")
	ErrUserInactive      = errors.New("user_inactive")
	ErrBadPassword       = errors.New("bad_password")
	ErrPasswordExpired   = errors.New("password_expired")
	ErrAttemptNotFound   = errors.New("login_attempt_not_found")
)

type Service interface {
	// Validate applies the owner's password rules in order and returns the
	// first violation.
	Validate(ctx context.Context, userID snowflake.ID, candidate string) error

	// ChangePassword validates, closes the current record and inserts the
	// replacement atomically.
	ChangePassword(ctx context.Context, userID snowflake.ID, newPassword string) error

	// CheckLogin verifies the password, records a login attempt and applies
	// the lockout policy. On success it returns the attempt id for a later
	// RecordLogout.
	CheckLogin(ctx context.Context, userID snowflake.ID, password string) (string, error)

	RecordLogout(ctx context.Context, attemptID string) error

	// IsExpired reports whether no password record is still open or dated
	// in the future.
	IsExpired(ctx context.Context, userID snowflake.ID) (bool, error)
}
