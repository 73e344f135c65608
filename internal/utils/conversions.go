package utils

import "strings"

// ClaimStrings normalises a multi-valued JWT claim. Providers send roles and
// scopes either as a JSON array or as one space separated string.
func ClaimStrings(v any) []string {
	switch claim := v.(type) {
	case nil:
		return nil
	case string:
		return strings.Fields(claim)
	case []string:
		return append([]string(nil), claim...)
	case []any:
		out := make([]string, 0, len(claim))
		for _, item := range claim {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
