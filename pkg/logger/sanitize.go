package logger

import (
	"strings"
)

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := map[string]bool{
		"code":      true,
		"pin":       true,
		"token":     true,
		"secret":    true,
		"proof":     true,
		"api_key":   true,
		"apikey":    true,
		"auth":      true,
		"signature": true,
	}

	query := strings.ToLower(rawQuery)
	for param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}

// SanitizedPrincipal masks a principal identifier for logging,
// keeping enough of a prefix to correlate log lines
func SanitizedPrincipal(principalID string) string {
	if len(principalID) <= 4 {
		return strings.Repeat("*", len(principalID))
	}
	return principalID[:4] + strings.Repeat("*", len(principalID)-4)
}
