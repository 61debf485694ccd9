package postgres

import "strings"

// buildOrderBy builds a safe ORDER BY clause using a whitelist of allowed keys.
// allowed maps incoming sort keys (e.g., "name") to actual column expressions.
// Input sort is comma-separated; prefix with '-' for DESC.
// Returns a string starting with " ORDER BY ...". Defaults to allowed["id"].
func buildOrderBy(sortParam string, allowed map[string]string) string {
	fallback := " ORDER BY id ASC"
	if col, ok := allowed["id"]; ok {
		fallback = " ORDER BY " + col + " ASC"
	}

	clauses := make([]string, 0, 2)
	for _, raw := range strings.Split(sortParam, ",") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		dir := " ASC"
		if strings.HasPrefix(s, "-") {
			dir = " DESC"
			s = strings.TrimPrefix(s, "-")
		}
		if col, ok := allowed[s]; ok {
			clauses = append(clauses, col+dir)
		}
	}
	if len(clauses) == 0 {
		return fallback
	}
	return " ORDER BY " + strings.Join(clauses, ", ")
}
