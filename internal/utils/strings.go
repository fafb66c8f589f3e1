package utils

import "strings"

// ParseSymbols splits a comma-separated list of asset symbols.
// Values are trimmed and upper-cased; empty entries and repeats are dropped,
// first occurrence wins. Returns nil when nothing is left.
func ParseSymbols(s string) []string {
	var result []string
	seen := make(map[string]bool)
	for _, v := range strings.Split(s, ",") {
		symbol := strings.ToUpper(strings.TrimSpace(v))
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		result = append(result, symbol)
	}
	return result
}
