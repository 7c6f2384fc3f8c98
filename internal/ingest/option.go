package ingest

import (
	"regexp"
	"strings"
)

var expirationPattern = regexp.MustCompile(`\d{2}/\d{2}/\d{4}`)

// ParseStrikeDisplay extracts a compact strike display from an option
// description, e.g. "ORACLE CORP 02/13/2026 $149 Call" -> "149c" and
// "APPLE INC 02/20/2026 $267.5 Put" -> "267.5p". Descriptions that do not
// look like options are returned unchanged.
func ParseStrikeDisplay(description string) string {
	if description == "" {
		return "N/A"
	}

	parts := strings.Fields(description)
	if len(parts) < 2 {
		return description
	}

	// Last word is Call/Put, second-to-last is the strike with a $ prefix
	optionType := strings.ToLower(parts[len(parts)-1])
	strike := strings.TrimPrefix(parts[len(parts)-2], "$")

	switch optionType {
	case "call":
		return strike + "c"
	case "put":
		return strike + "p"
	default:
		return description
	}
}

// ParseExpiration extracts the MM/DD/YYYY expiration date from an option
// description, or "N/A" when none is present.
func ParseExpiration(description string) string {
	if description == "" {
		return "N/A"
	}

	if match := expirationPattern.FindString(description); match != "" {
		return match
	}

	return "N/A"
}
