// Package redaction masks secrets before they reach log sinks.
// Besides generic key/token/password shapes it understands the chat
// commands that carry secrets as plain arguments (#auth, #set_openai_api_key).
package redaction

import (
	"regexp"
	"strings"
	"sync"
)

// Config holds redaction configuration.
type Config struct {
	Enabled bool `json:"enabled"`

	// RedactAPIKeys redacts API keys and bearer/JWT tokens.
	RedactAPIKeys bool `json:"redact_api_keys"`

	// RedactPasswords redacts password fields.
	RedactPasswords bool `json:"redact_passwords"`

	// RedactCommandSecrets redacts the argument of secret-bearing chat commands.
	RedactCommandSecrets bool `json:"redact_command_secrets"`

	RedactEmails bool `json:"redact_emails"`

	// CustomPatterns allows additional regex patterns to redact.
	CustomPatterns []string `json:"custom_patterns"`

	// Replacement is the string used to replace sensitive data.
	Replacement string `json:"replacement"`
}

// DefaultConfig returns the default redaction configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		RedactAPIKeys:        true,
		RedactPasswords:      true,
		RedactCommandSecrets: true,
		RedactEmails:         true,
		Replacement:          "[REDACTED]",
	}
}

// Redactor provides sensitive data redaction capabilities. It is immutable
// after NewRedactor; SetGlobalConfig swaps in a new one.
type Redactor struct {
	config          Config
	compiledCustom  []*regexp.Regexp
	compiledBuiltin map[string]*regexp.Regexp
}

// NewRedactor creates a new Redactor with the given configuration.
func NewRedactor(config Config) *Redactor {
	r := &Redactor{
		config:          config,
		compiledBuiltin: make(map[string]*regexp.Regexp),
	}

	r.compileBuiltinPatterns()

	for _, pattern := range config.CustomPatterns {
		re, err := regexp.Compile(pattern)
		if err == nil {
			r.compiledCustom = append(r.compiledCustom, re)
		}
	}

	return r
}

func (r *Redactor) compileBuiltinPatterns() {
	r.compiledBuiltin["api_key"] = regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|api[_-]?secret)\s*[=:]\s*['"]?([a-zA-Z0-9_\-]{20,})['"]?`)
	r.compiledBuiltin["bearer_token"] = regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9_\-\.]{20,})`)
	r.compiledBuiltin["openai_key"] = regexp.MustCompile(`sk-[a-zA-Z0-9_\-]{20,}`)
	r.compiledBuiltin["jwt"] = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`)

	r.compiledBuiltin["password"] = regexp.MustCompile(`(?i)(?:password|passwd|pwd)\s*[=:]\s*['"]?([^'"\s]{4,})['"]?`)

	// #auth <password>, #认证 <password>, #set_openai_api_key <key>
	r.compiledBuiltin["command_secret"] = regexp.MustCompile(`#(?:auth|认证|set_openai_api_key)\s+(\S+)`)

	r.compiledBuiltin["email"] = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	r.compiledBuiltin["json_secret"] = regexp.MustCompile(`"(?:api_key|apikey|secret|password|token|private_key)"\s*:\s*"([^"]+)"`)
}

// Redact applies all configured redaction rules to the input string.
func (r *Redactor) Redact(input string) string {
	if !r.config.Enabled {
		return input
	}

	result := input

	if r.config.RedactCommandSecrets {
		result = r.redactPatterns(result, "command_secret")
	}

	if r.config.RedactAPIKeys {
		result = r.redactPatterns(result, "api_key", "bearer_token", "openai_key", "jwt")
		result = r.redactPatterns(result, "json_secret")
	}

	if r.config.RedactPasswords {
		result = r.redactPatterns(result, "password")
	}

	if r.config.RedactEmails {
		re := r.compiledBuiltin["email"]
		result = re.ReplaceAllStringFunc(result, r.maskEmail)
	}

	for _, re := range r.compiledCustom {
		result = re.ReplaceAllString(result, r.config.Replacement)
	}

	return result
}

// redactPatterns replaces the first capture group of each match, or the
// whole match when the pattern has no groups.
func (r *Redactor) redactPatterns(input string, patternNames ...string) string {
	result := input
	for _, name := range patternNames {
		re, ok := r.compiledBuiltin[name]
		if !ok {
			continue
		}
		result = re.ReplaceAllStringFunc(result, func(match string) string {
			submatches := re.FindStringSubmatch(match)
			if len(submatches) > 1 && submatches[1] != "" {
				return strings.Replace(match, submatches[1], r.config.Replacement, 1)
			}
			return r.config.Replacement
		})
	}
	return result
}

// maskEmail keeps the first character of the local part and the domain.
func (r *Redactor) maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return r.config.Replacement
	}
	return local[:1] + "***@" + domain
}

// RedactFields redacts sensitive values in a map.
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	if !r.config.Enabled {
		return fields
	}

	result := make(map[string]any, len(fields))
	for k, v := range fields {
		if isSensitiveKey(strings.ToLower(k)) {
			result[k] = r.config.Replacement
			continue
		}
		switch val := v.(type) {
		case string:
			result[k] = r.Redact(val)
		case map[string]any:
			result[k] = r.RedactFields(val)
		default:
			result[k] = v
		}
	}
	return result
}

var sensitiveKeys = []string{
	"password", "passwd", "pwd",
	"api_key", "apikey", "api_secret",
	"secret", "private_key",
	"token", "credential",
}

func isSensitiveKey(key string) bool {
	for _, sk := range sensitiveKeys {
		if strings.Contains(key, sk) {
			return true
		}
	}
	return false
}

var (
	globalMu       sync.RWMutex
	globalRedactor = NewRedactor(DefaultConfig())
)

// Redact applies redaction using the global redactor.
func Redact(input string) string {
	globalMu.RLock()
	r := globalRedactor
	globalMu.RUnlock()
	return r.Redact(input)
}

// RedactFields redacts fields using the global redactor.
func RedactFields(fields map[string]any) map[string]any {
	globalMu.RLock()
	r := globalRedactor
	globalMu.RUnlock()
	return r.RedactFields(fields)
}

// SetGlobalConfig sets the configuration for the global redactor.
func SetGlobalConfig(config Config) {
	r := NewRedactor(config)
	globalMu.Lock()
	globalRedactor = r
	globalMu.Unlock()
}
