package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// ValidationResult accumulates categorized findings during environment
// validation. It is immutable once handed to the caller and drives both the
// process exit decision and the user-facing report.
type ValidationResult struct {
	Errors   []string
	Warnings []string
	Info     []string
	Success  []string
}

func (r *ValidationResult) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) AddWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) AddInfo(format string, args ...any) {
	r.Info = append(r.Info, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) AddSuccess(format string, args ...any) {
	r.Success = append(r.Success, fmt.Sprintf(format, args...))
}

// HasErrors reports whether any fatal finding was recorded. Warnings alone
// never block startup.
func (r *ValidationResult) HasErrors() bool { return len(r.Errors) > 0 }

// OverallStatus classifies the result: "insecure" when errors are present,
// "needs_attention" when only warnings are present, "secure" otherwise.
func (r *ValidationResult) OverallStatus() string {
	switch {
	case len(r.Errors) > 0:
		return "insecure"
	case len(r.Warnings) > 0:
		return "needs_attention"
	default:
		return "secure"
	}
}

// Print renders the findings as categorized sections.
func (r *ValidationResult) Print(w io.Writer) {
	section := func(title string, msgs []string, prefix string) {
		if len(msgs) == 0 {
			return
		}
		fmt.Fprintf(w, "\n=== %s ===\n", title)
		for _, msg := range msgs {
			fmt.Fprintf(w, "%s %s\n", prefix, msg)
		}
	}
	section("VALIDATION PASSED", r.Success, "[ok]")
	section("INFORMATION", r.Info, "[info]")
	section("WARNINGS", r.Warnings, "[warn]")
	section("ERRORS", r.Errors, "[error]")
}

// requiredParams are the deployment parameters without which startup is
// blocked, with their descriptions for the failure report.
var requiredParams = []struct{ key, description string }{
	{"DATABASE_URL", "PostgreSQL database connection string"},
	{"ADMIN_PASSWORD", "Tryton administrator password"},
	{"SECRET_KEY", "Application secret key for cryptographic operations"},
	{"FRONTEND_URL", "URL of the DivvyQueue frontend application"},
	{"CORS_ORIGINS", "Comma-separated list of allowed CORS origins"},
}

// recommendedParams are reported informationally when absent.
var recommendedParams = []struct{ key, description string }{
	{"DATABASE_NAME", "Database name (defaults to divvyqueue_prod)"},
	{"SESSION_SECRET", "Secret for session encryption"},
	{"SESSION_TIMEOUT", "Session timeout in seconds"},
	{"LOG_LEVEL", "Logging level (INFO recommended for production)"},
	{"ADMIN_EMAIL", "Administrator email address"},
	{"EMAIL_HOST", "SMTP server hostname for email notifications"},
	{"EMAIL_USER", "SMTP username"},
	{"EMAIL_PASSWORD", "SMTP password or app-specific password"},
}

// forbiddenValues are exact (case-insensitive) values that are always fatal
// in a deployment, regardless of any other rule.
var forbiddenValues = map[string][]string{
	"ADMIN_PASSWORD": {"admin", "password", "123456", "root", "tryton"},
	"SECRET_KEY":     {"dev", "development", "secret", "key", "changeme"},
}

// weakPatterns are substrings that flag a weak credential. Matched
// case-insensitively as substrings, not equality.
var weakPatterns = []string{
	"password", "admin", "123456", "qwerty", "letmein",
	"welcome", "monkey", "dragon", "secret", "master",
}

const credentialSymbols = `!@#$%^&*(),.?":{}|<>`

// validate applies every rule from the deployment checklist, recording each
// problem as a finding so they are all reported together.
func validate(cfg *Config, lookup func(string) string) *ValidationResult {
	result := &ValidationResult{}

	var missing []string
	for _, p := range requiredParams {
		if lookup(p.key) == "" {
			missing = append(missing, p.key)
			result.AddError("%s is required - %s", p.key, p.description)
			continue
		}
		result.AddSuccess("%s is set", p.key)

		if forbidden, ok := forbiddenValues[p.key]; ok {
			value := lookup(p.key)
			for _, f := range forbidden {
				if strings.EqualFold(value, f) {
					result.AddError("%s uses forbidden production value", p.key)
				}
			}
		}
	}

	if len(missing) > 0 {
		result.AddError("Missing required variables: %s", strings.Join(missing, ", "))
		return result
	}

	validateCredential(result, "ADMIN_PASSWORD", cfg.AdminPassword)
	validateSecretKey(result, cfg.SecretKey)
	validateDatabaseURL(result, cfg)
	validateCORSOrigins(result, cfg.CORSOrigins)
	validateLogLevel(result, cfg.LogLevel)
	validateSessionTimeout(result, lookup("SESSION_TIMEOUT"))
	validateEmail(result, cfg)

	for _, p := range recommendedParams {
		if lookup(p.key) != "" {
			result.AddSuccess("%s is configured", p.key)
		} else {
			result.AddInfo("%s not set - %s", p.key, p.description)
		}
	}

	return result
}

// validateCredential applies the strength rules. Each violated rule is a
// separate warning; only the forbidden exact values (checked earlier) are
// fatal.
func validateCredential(result *ValidationResult, name, value string) {
	var issues []string

	if len(value) < 12 {
		issues = append(issues, fmt.Sprintf("%s should be at least 12 characters long", name))
	}
	classes := []struct {
		match func(rune) bool
		label string
	}{
		{unicode.IsUpper, "uppercase letters"},
		{unicode.IsLower, "lowercase letters"},
		{unicode.IsDigit, "numbers"},
		{func(r rune) bool { return strings.ContainsRune(credentialSymbols, r) }, "special characters"},
	}
	for _, c := range classes {
		if !strings.ContainsFunc(value, c.match) {
			issues = append(issues, fmt.Sprintf("%s should contain %s", name, c.label))
		}
	}

	lower := strings.ToLower(value)
	for _, pattern := range weakPatterns {
		if strings.Contains(lower, pattern) {
			issues = append(issues, fmt.Sprintf("%s contains common weak pattern: %s", name, pattern))
		}
	}

	if len(issues) == 0 {
		result.AddSuccess("%s meets security requirements", name)
		return
	}
	for _, issue := range issues {
		result.AddWarning("%s", issue)
	}
}

func validateSecretKey(result *ValidationResult, key string) {
	switch {
	case len(key) < 32:
		result.AddWarning("SECRET_KEY should be at least 32 characters long")
	case len(key) >= 50:
		result.AddSuccess("SECRET_KEY length is excellent")
	default:
		result.AddSuccess("SECRET_KEY length is acceptable")
	}
}

func validateDatabaseURL(result *ValidationResult, cfg *Config) {
	desc := cfg.Database
	if desc == nil {
		result.AddError("DATABASE_URL: invalid format")
		return
	}

	issues := desc.Validate()
	for _, issue := range issues {
		result.AddError("DATABASE_URL: %s", issue)
	}

	if desc.IsLoopback() {
		if cfg.Production() {
			result.AddError("DATABASE_URL: database should not use localhost in production")
		} else {
			result.AddWarning("DATABASE_URL: database uses a loopback address")
		}
	}

	if desc.SSLMode == "" || desc.SSLMode == "disable" {
		result.AddWarning("DATABASE_URL: connection should use SSL (add ?sslmode=require)")
	}

	if len(issues) == 0 {
		result.AddSuccess("DATABASE_URL format is valid")
		result.AddInfo("Database: %s:%d", desc.Host, desc.Port)
	}
}

func validateCORSOrigins(result *ValidationResult, origins []string) {
	if len(origins) == 0 {
		result.AddError("CORS_ORIGINS should not be empty")
		return
	}

	valid := true
	for _, origin := range origins {
		switch {
		case origin == "*":
			result.AddError("CORS_ORIGINS contains wildcard (*) - this is insecure")
			valid = false
		case strings.HasPrefix(origin, "http://") && !strings.Contains(origin, "localhost") && !strings.Contains(origin, "127.0.0.1"):
			result.AddError("CORS origin uses HTTP instead of HTTPS: %s", origin)
			valid = false
		case !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://"):
			result.AddError("Invalid CORS origin format: %s", origin)
			valid = false
		}
	}
	if valid {
		result.AddSuccess("CORS_ORIGINS configuration is secure")
	}
}

func validateLogLevel(result *ValidationResult, level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		result.AddError("LOG_LEVEL should not be DEBUG in production")
	case "INFO", "WARNING", "ERROR":
		result.AddSuccess("LOG_LEVEL is appropriate for production: %s", level)
	default:
		result.AddWarning("LOG_LEVEL has unrecognized value %q, the logger will fall back to INFO", level)
	}
}

func validateSessionTimeout(result *ValidationResult, raw string) {
	if raw == "" {
		return
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		result.AddError("SESSION_TIMEOUT must be a valid integer (seconds)")
		return
	}
	switch {
	case seconds > 7200:
		result.AddWarning("SESSION_TIMEOUT is very long (>2 hours), consider shorter timeout")
	case seconds < 300:
		result.AddWarning("SESSION_TIMEOUT is very short (<5 minutes), may affect user experience")
	default:
		result.AddSuccess("SESSION_TIMEOUT is reasonable: %d seconds", seconds)
	}
}

func validateEmail(result *ValidationResult, cfg *Config) {
	set := 0
	var missing []string
	for _, p := range []struct{ key, value string }{
		{"EMAIL_HOST", cfg.EmailHost},
		{"EMAIL_USER", cfg.EmailUser},
		{"EMAIL_PASSWORD", cfg.EmailPassword},
	} {
		if p.value != "" {
			set++
		} else {
			missing = append(missing, p.key)
		}
	}

	switch {
	case set == 3:
		result.AddSuccess("Email configuration is complete")
	case set > 0:
		result.AddWarning("Partial email configuration - missing: %s", strings.Join(missing, ", "))
	default:
		result.AddInfo("Email not configured (optional but recommended for notifications)")
	}
}
