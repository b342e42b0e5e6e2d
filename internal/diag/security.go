package diag

import (
	"math"
	"os"
	"time"
)

// securityChecks is the fixed deployment checklist the score is computed
// from. The set is stable so scores are comparable across deployments.
var securityChecks = []string{
	"config_file_exists",
	"config_file_permissions",
	"admin_password_set",
	"secret_key_set",
	"database_url_set",
	"cors_no_wildcard",
}

// SecurityReport is the scored result of the deployment checklist.
type SecurityReport struct {
	OverallStatus string          `json:"overall_status"`
	Score         float64         `json:"security_score"`
	Timestamp     time.Time       `json:"timestamp"`
	Checks        map[string]bool `json:"checks,omitempty"`
}

// Security evaluates the deployment checklist. Each check contributes
// equally; per-check results are included only when detail is requested.
func (r *Reporter) Security(detail bool) *SecurityReport {
	checks := map[string]bool{
		"admin_password_set": r.cfg.AdminPassword != "",
		"secret_key_set":     r.cfg.SecretKey != "",
		"database_url_set":   r.cfg.DatabaseURL != "",
		"cors_no_wildcard":   corsWithoutWildcard(r.cfg.CORSOrigins),
	}
	info, err := os.Stat(r.cfg.ConfigFile)
	checks["config_file_exists"] = err == nil
	checks["config_file_permissions"] = err == nil && info.Mode().Perm() == 0o600

	passed := 0
	for _, name := range securityChecks {
		if checks[name] {
			passed++
		}
	}
	score := math.Round(float64(passed)/float64(len(securityChecks))*1000) / 10

	status := "needs_attention"
	if score >= 80 {
		status = "secure"
	}

	report := &SecurityReport{
		OverallStatus: status,
		Score:         score,
		Timestamp:     time.Now().UTC(),
	}
	if detail {
		report.Checks = checks
	}
	return report
}

func corsWithoutWildcard(origins []string) bool {
	if len(origins) == 0 {
		return false
	}
	for _, origin := range origins {
		if origin == "*" {
			return false
		}
	}
	return true
}
