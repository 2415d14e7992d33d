// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package auth

import (
	"strings"
	"unicode"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Password policy defaults.
const (
	DefaultMinPasswordLength = 8
	DefaultHistorySize       = 3
)

// specialCharacters is the set accepted for the special-character class.
const specialCharacters = "!@#$%^&*()-_=+[]{}|;:'\",.<>?/`~\\"

// Rejection reasons, exposed as the oops code of a policy error.
const (
	ReasonTooShort       = "PASSWORD_TOO_SHORT"
	ReasonMissingUpper   = "PASSWORD_MISSING_UPPERCASE"
	ReasonMissingLower   = "PASSWORD_MISSING_LOWERCASE"
	ReasonMissingDigit   = "PASSWORD_MISSING_DIGIT"
	ReasonMissingSpecial = "PASSWORD_MISSING_SPECIAL"
	ReasonBlockedWord    = "PASSWORD_BLOCKED_WORD"
	ReasonReused         = "PASSWORD_PREVIOUSLY_USED"
)

// PolicyConfig configures a PasswordPolicy.
type PolicyConfig struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool

	// BlockedWords are matched case-insensitively anywhere in the candidate.
	// Entries containing glob metacharacters (*, ?, [) are used as glob
	// patterns against the whole lowercased candidate instead.
	BlockedWords []string
}

// DefaultPolicyConfig returns the default password policy.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MinLength:      DefaultMinPasswordLength,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
		BlockedWords:   []string{"password"},
	}
}

type blockedPattern struct {
	source string
	g      glob.Glob
}

// PasswordPolicy validates candidate passwords against complexity rules,
// blocked words, and prior-password history.
type PasswordPolicy struct {
	cfg     PolicyConfig
	blocked []blockedPattern
	hasher  PasswordHasher
}

// NewPasswordPolicy compiles the blocked-word list.
func NewPasswordPolicy(cfg PolicyConfig, hasher PasswordHasher) (*PasswordPolicy, error) {
	if hasher == nil {
		return nil, oops.Code("AUTH_POLICY_CONFIG_INVALID").Errorf("password hasher is required")
	}
	if cfg.MinLength < 1 {
		return nil, oops.Code("AUTH_POLICY_CONFIG_INVALID").
			With("min_length", cfg.MinLength).
			Errorf("minimum password length must be positive")
	}

	p := &PasswordPolicy{cfg: cfg, hasher: hasher}
	for _, word := range cfg.BlockedWords {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" {
			continue
		}
		pattern := word
		if !strings.ContainsAny(word, "*?[") {
			pattern = "*" + glob.QuoteMeta(word) + "*"
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, oops.Code("AUTH_POLICY_CONFIG_INVALID").
				With("blocked_word", word).
				Wrap(err)
		}
		p.blocked = append(p.blocked, blockedPattern{source: word, g: g})
	}
	return p, nil
}

// Validate checks candidate in order: length, character classes, blocked
// words, history. It returns nil or an error wrapping ErrValidation whose
// oops code is one of the Reason constants. A history entry that cannot be
// decoded is reported as a dependency error.
func (p *PasswordPolicy) Validate(candidate string, history PasswordHistory) error {
	if len([]rune(candidate)) < p.cfg.MinLength {
		return oops.Code(ReasonTooShort).
			With("min_length", p.cfg.MinLength).
			Wrapf(ErrValidation, "password must be at least %d characters", p.cfg.MinLength)
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(specialCharacters, r):
			hasSpecial = true
		}
	}
	if p.cfg.RequireUpper && !hasUpper {
		return validationError(ReasonMissingUpper, "password must contain an uppercase letter")
	}
	if p.cfg.RequireLower && !hasLower {
		return validationError(ReasonMissingLower, "password must contain a lowercase letter")
	}
	if p.cfg.RequireDigit && !hasDigit {
		return validationError(ReasonMissingDigit, "password must contain a digit")
	}
	if p.cfg.RequireSpecial && !hasSpecial {
		return validationError(ReasonMissingSpecial, "password must contain a special character")
	}

	lowered := strings.ToLower(candidate)
	for _, b := range p.blocked {
		if b.g.Match(lowered) {
			return validationError(ReasonBlockedWord, "password contains a blocked word")
		}
	}

	for i, old := range history {
		match, err := p.hasher.Verify(candidate, old)
		if err != nil {
			return dependencyError("AUTH_HISTORY_CORRUPT", "verify password history", oops.With("index", i).Wrap(err))
		}
		if match {
			return validationError(ReasonReused, "password has been used recently")
		}
	}

	return nil
}
