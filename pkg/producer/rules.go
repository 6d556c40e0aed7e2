package producer

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules hold the suppression substrings and redaction patterns the
// pre-filter runs. Defaults are built in; deployments can override them
// from a YAML rules file.
type Rules struct {
	// Suppress lists known-noise substrings, matched case-folded.
	Suppress []string `yaml:"suppress"`
	// Redact lists value-preserving substitutions, applied in order.
	Redact []RedactRule `yaml:"redact"`
}

// RedactRule replaces the value captured by Pattern while leaving the field
// name and surrounding structure intact. Pattern must contain exactly three
// capture groups: prefix, value, suffix.
type RedactRule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// redactedPlaceholder is what secret values become.
const redactedPlaceholder = "[REDACTED]"

// DefaultRules returns the built-in noise and secret patterns.
func DefaultRules() *Rules {
	return &Rules{
		Suppress: []string{
			"[hmr]",
			"[vite]",
			"websocket connection closed",
			"favicon.ico",
			"downloadable font",
			"source map error",
			"react devtools",
		},
		Redact: []RedactRule{
			{Name: "api_key", Pattern: `(?i)(api[_-]?key"?\s*[:=]\s*"?)([A-Za-z0-9_\-]{8,})("?)`},
			{Name: "bearer_token", Pattern: `(?i)(bearer\s+)([A-Za-z0-9_\-\.]+)()`},
			{Name: "password", Pattern: `(?i)(password"?\s*[:=]\s*"?)([^",\s}]+)("?)`},
			{Name: "secret", Pattern: `(?i)(secret"?\s*[:=]\s*"?)([^",\s}]+)("?)`},
			{Name: "authorization", Pattern: `(?i)(authorization"?\s*[:=]\s*"?)([^",}]+)("?)`},
		},
	}
}

// LoadRulesFile reads a YAML rules file. Entries replace the defaults
// entirely when the corresponding section is present.
func LoadRulesFile(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var loaded Rules
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}

	rules := DefaultRules()
	if loaded.Suppress != nil {
		rules.Suppress = loaded.Suppress
	}
	if loaded.Redact != nil {
		rules.Redact = loaded.Redact
	}

	// Fail fast on bad patterns rather than at first emit.
	for _, r := range rules.Redact {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return nil, fmt.Errorf("redaction rule %q: %w", r.Name, err)
		}
	}
	return rules, nil
}

// suppressor checks messages against the noise list.
type suppressor struct {
	patterns []string
}

func newSuppressor(patterns []string) *suppressor {
	folded := make([]string, len(patterns))
	for i, p := range patterns {
		folded[i] = strings.ToLower(p)
	}
	return &suppressor{patterns: folded}
}

// Matches reports whether the message contains any suppressed substring.
// The pattern set is small and static, so a linear scan is fine.
func (s *suppressor) Matches(message string) bool {
	folded := strings.ToLower(message)
	for _, p := range s.patterns {
		if strings.Contains(folded, p) {
			return true
		}
	}
	return false
}

// redactor applies the ordered substitution list.
type redactor struct {
	rules []compiledRedact
}

type compiledRedact struct {
	name string
	re   *regexp.Regexp
}

func newRedactor(rules []RedactRule) *redactor {
	compiled := make([]compiledRedact, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			// Broken custom patterns are skipped rather than taking the
			// pipeline down; LoadRulesFile catches them earlier.
			continue
		}
		compiled = append(compiled, compiledRedact{name: r.Name, re: re})
	}
	return &redactor{rules: compiled}
}

// Apply runs every rule over the message and returns it with all secret
// values replaced, plus the number of substitutions performed.
func (r *redactor) Apply(message string) (string, int) {
	count := 0
	for _, rule := range r.rules {
		message = rule.re.ReplaceAllStringFunc(message, func(match string) string {
			groups := rule.re.FindStringSubmatch(match)
			if len(groups) != 4 {
				return match
			}
			count++
			return groups[1] + redactedPlaceholder + groups[3]
		})
	}
	return message, count
}
