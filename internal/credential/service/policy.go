package service

import (
	"context"
	"strings"
	"unicode"

	"github.com/smallbiznis/clavis/internal/credential/domain"
	"github.com/smallbiznis/clavis/internal/policy"
	tenantdomain "github.com/smallbiznis/clavis/internal/tenant/domain"
)

// Rule defaults when the owner has no policy value configured.
const (
	defaultMinLength    = 6
	defaultPrefixLength = 3
)

// rules holds the owner's password policy, loaded once per validation.
type rules struct {
	minLength              int
	maxLength              int // 0 = unlimited
	requireLettersAndDigit bool
	usernamePrefixLength   int // 0 = rule disabled
	reuseWindow            int // 0 = rule disabled
	renewalDays            int // 0 = default interval
	lockoutThreshold       int // 0 = lockout disabled
}

func (s *service) loadRules(ctx context.Context, owner *tenantdomain.Owner) (rules, error) {
	var (
		r   rules
		err error
	)
	if r.minLength, err = s.policies.IntValue(ctx, owner.ID, policy.PasswordMinLength, defaultMinLength); err != nil {
		return r, err
	}
	if r.maxLength, err = s.policies.IntValue(ctx, owner.ID, policy.PasswordMaxLength, 0); err != nil {
		return r, err
	}
	if r.requireLettersAndDigit, err = s.policies.BoolValue(ctx, owner.ID, policy.PasswordRequireLettersAndDigit, false); err != nil {
		return r, err
	}
	if r.usernamePrefixLength, err = s.policies.IntValue(ctx, owner.ID, policy.PasswordUsernamePrefixLength, defaultPrefixLength); err != nil {
		return r, err
	}
	if r.reuseWindow, err = s.policies.IntValue(ctx, owner.ID, policy.PasswordReuseWindow, 0); err != nil {
		return r, err
	}
	if r.renewalDays, err = s.policies.IntValue(ctx, owner.ID, policy.PasswordRenewalDays, 0); err != nil {
		return r, err
	}
	if r.lockoutThreshold, err = s.policies.IntValue(ctx, owner.ID, policy.LoginLockoutThreshold, 0); err != nil {
		return r, err
	}
	return r, nil
}

// validate applies the rules in fixed order and returns on the first
// violation. The reuse check is last because it is the only one that touches
// storage.
func (s *service) validate(ctx context.Context, user *tenantdomain.User, r rules, candidate string) error {
	if candidate == "" {
		return domain.Violation(domain.RuleEmpty)
	}

	if r.usernamePrefixLength > 0 && len(user.Name) >= r.usernamePrefixLength && len(candidate) >= r.usernamePrefixLength {
		userPrefix := strings.ToLower(user.Name[:r.usernamePrefixLength])
		candidatePrefix := strings.ToLower(candidate[:r.usernamePrefixLength])
		if userPrefix == candidatePrefix {
			return domain.Violation(domain.RuleStartsWithUsername, "prefix_length", r.usernamePrefixLength)
		}
	}

	if len(candidate) < r.minLength {
		return domain.Violation(domain.RuleTooShort, "min_length", r.minLength)
	}
	if r.maxLength > 0 && len(candidate) > r.maxLength {
		return domain.Violation(domain.RuleTooLong, "max_length", r.maxLength)
	}

	if r.requireLettersAndDigit && !hasLetterAndDigit(candidate) {
		return domain.Violation(domain.RuleNumbersAndLetters)
	}

	if r.reuseWindow > 0 {
		recent, err := s.repo.RecentRecords(ctx, user.ID, r.reuseWindow)
		if err != nil {
			return err
		}
		for _, record := range recent {
			if s.hasher.Verify(candidate, record.Salt, record.Hash, record.IterationVersion) {
				return domain.Violation(domain.RuleNotUniqueBeforeReuse, "reuse_window", r.reuseWindow)
			}
		}
	}
	return nil
}

func hasLetterAndDigit(s string) bool {
	var letter, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
		if letter && digit {
			return true
		}
	}
	return false
}
