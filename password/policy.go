package password

import (
	"fmt"
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// SpecialCharacters is the set a password must draw at least one symbol from.
const SpecialCharacters = "@$!%*?&"

// PolicyConfig configures the account password policy.
type PolicyConfig struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
	// MinStrengthScore is a zxcvbn score between 0 and 4. Zero disables the check.
	MinStrengthScore int
}

// DefaultPolicyConfig returns the registration policy: at least 8 characters
// with an uppercase letter, a lowercase letter, a digit and one of
// SpecialCharacters.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MinLength:      8,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// ViolationError is a single policy violation.
type ViolationError struct {
	Code    string
	Message string
}

func (e *ViolationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Rule validates a password against one policy rule.
type Rule interface {
	Validate(password string) error
}

// RuleFunc adapts a function to a Rule.
type RuleFunc func(password string) error

// Validate calls f.
func (f RuleFunc) Validate(password string) error {
	return f(password)
}

// Policy applies rules in order and reports the first violation.
type Policy struct {
	rules []Rule
}

// NewPolicy builds a Policy from explicit rules.
func NewPolicy(rules ...Rule) *Policy {
	copied := make([]Rule, len(rules))
	copy(copied, rules)
	return &Policy{rules: copied}
}

// PolicyFromConfig builds the rule chain described by cfg.
func PolicyFromConfig(cfg PolicyConfig) *Policy {
	rules := []Rule{MinLengthRule(cfg.MinLength)}
	if cfg.RequireUpper {
		rules = append(rules, requireClass("uppercase", "an uppercase letter", unicode.IsUpper))
	}
	if cfg.RequireLower {
		rules = append(rules, requireClass("lowercase", "a lowercase letter", unicode.IsLower))
	}
	if cfg.RequireDigit {
		rules = append(rules, requireClass("digit", "a digit", unicode.IsDigit))
	}
	if cfg.RequireSpecial {
		rules = append(rules, SpecialCharacterRule(SpecialCharacters))
	}
	if cfg.MinStrengthScore > 0 {
		rules = append(rules, StrengthRule(cfg.MinStrengthScore))
	}
	return NewPolicy(rules...)
}

// Validate returns the first violated rule as a *ViolationError.
func (p *Policy) Validate(password string, userInputs ...string) error {
	if p == nil {
		return fmt.Errorf("password policy not configured")
	}
	for _, rule := range p.rules {
		if sr, ok := rule.(strengthRule); ok {
			if err := sr.validateWith(password, userInputs); err != nil {
				return err
			}
			continue
		}
		if err := rule.Validate(password); err != nil {
			return err
		}
	}
	return nil
}

// MinLengthRule requires at least min characters.
func MinLengthRule(min int) Rule {
	return RuleFunc(func(password string) error {
		if len([]rune(password)) < min {
			return &ViolationError{
				Code:    "min_length",
				Message: fmt.Sprintf("password must be at least %d characters long", min),
			}
		}
		return nil
	})
}

// SpecialCharacterRule requires one character from set.
func SpecialCharacterRule(set string) Rule {
	return RuleFunc(func(password string) error {
		if strings.ContainsAny(password, set) {
			return nil
		}
		return &ViolationError{
			Code:    "special",
			Message: fmt.Sprintf("password must include one of %s", set),
		}
	})
}

// StrengthRule enforces a minimum zxcvbn score.
func StrengthRule(minScore int) Rule {
	if minScore > 4 {
		minScore = 4
	}
	return strengthRule{minScore: minScore}
}

type strengthRule struct {
	minScore int
}

func (r strengthRule) Validate(password string) error {
	return r.validateWith(password, nil)
}

func (r strengthRule) validateWith(password string, userInputs []string) error {
	if r.minScore <= 0 {
		return nil
	}
	result := zxcvbn.PasswordStrength(password, userInputs)
	if result.Score >= r.minScore {
		return nil
	}
	return &ViolationError{
		Code:    "weak_password",
		Message: "password is too weak; choose a more complex value",
	}
}

func requireClass(code, description string, match func(rune) bool) Rule {
	return RuleFunc(func(password string) error {
		for _, r := range password {
			if match(r) {
				return nil
			}
		}
		return &ViolationError{
			Code:    code,
			Message: "password must include " + description,
		}
	})
}
