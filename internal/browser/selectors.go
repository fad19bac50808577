package browser

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// SelectorSet is an ordered list of candidate matchers: the primary
// selector is probed first with the full field wait, then each fallback
// with a short per-candidate budget. Portal markup varies wildly, so the
// list is configuration, not code.
type SelectorSet struct {
	Primary   string   `yaml:"primary"`
	Fallbacks []string `yaml:"fallbacks"`
}

// SelectorConfig carries every heuristic selector list the controller
// probes during login.
type SelectorConfig struct {
	EmailField     SelectorSet `yaml:"email_field"`
	PasswordField  SelectorSet `yaml:"password_field"`
	SubmitControls []string    `yaml:"submit_controls"`
	TwoFactorHints []string    `yaml:"two_factor_hints"`
	LoggedInHints  []string    `yaml:"logged_in_hints"`
}

// DefaultSelectors returns the built-in heuristics. False negatives on
// the hint lists are acceptable; they are heuristics, not guarantees.
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		EmailField: SelectorSet{
			Primary: `input[type="email"], input[name="email"], input[id="email"]`,
			Fallbacks: []string{
				`input[placeholder*="email" i]`,
				`input[placeholder*="username" i]`,
				`input[aria-label*="email" i]`,
				`input[name="username"]`,
			},
		},
		PasswordField: SelectorSet{
			Primary: `input[type="password"], input[name="password"], input[id="password"]`,
			Fallbacks: []string{
				`input[placeholder*="password" i]`,
				`input[aria-label*="password" i]`,
			},
		},
		SubmitControls: []string{
			`button[type="submit"]`,
			`input[type="submit"]`,
			`button[name="login"]`,
			`[role="button"][data-testid*="login"]`,
		},
		TwoFactorHints: []string{
			`input[placeholder*="code" i]`,
			`input[placeholder*="verification" i]`,
			`input[placeholder*="authenticator" i]`,
			`[data-testid*="2fa"]`,
			`[data-testid*="verification"]`,
			`.two-factor`,
			`.verification-code`,
			`#verification-code`,
			`#two-factor`,
		},
		LoggedInHints: []string{
			`[data-testid*="dashboard"]`,
			`[data-testid*="profile"]`,
			`.dashboard`,
			`.user-menu`,
			`.profile-menu`,
			`nav[role="navigation"]`,
			`[aria-label*="user menu" i]`,
			`[aria-label*="profile" i]`,
		},
	}
}

// LoadSelectors reads a selector config from a YAML file, or returns the
// defaults when path is empty. New platform quirks are additive edits to
// the file, not code changes.
func LoadSelectors(path string) (SelectorConfig, error) {
	cfg := DefaultSelectors()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read selector config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse selector config: %w", err)
	}
	return cfg, nil
}

// probeFirst tries each candidate in order with the given per-candidate
// timeout and returns the first selector that matched. A miss on every
// candidate returns false; probe errors are never surfaced.
func probeFirst(ctx context.Context, page Page, candidates []string, perProbe time.Duration) (string, bool) {
	for _, selector := range candidates {
		if selector == "" {
			continue
		}
		if err := page.WaitVisible(ctx, selector, perProbe); err == nil {
			return selector, true
		}
		if ctx.Err() != nil {
			return "", false
		}
	}
	return "", false
}
