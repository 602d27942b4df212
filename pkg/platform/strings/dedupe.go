// Package strings provides string set helpers shared by policy parameters and
// decision obligations.
package strings

import (
	"slices"
	"strings"
)

// SortedSet trims each value, drops empties and duplicates, and returns the
// survivors in ascending byte order. The result is suitable for hashing.
//
// Example:
//
//	SortedSet([]string{" privacy_ok", "budget_ok", "privacy_ok", ""})
//	// Returns: []string{"budget_ok", "privacy_ok"}
func SortedSet(values []string) []string {
	return sortedSet(values, strings.TrimSpace)
}

// SortedUpperSet is SortedSet with upper-casing, used for ISO country codes.
func SortedUpperSet(values []string) []string {
	return sortedSet(values, func(v string) string {
		return strings.ToUpper(strings.TrimSpace(v))
	})
}

func sortedSet(values []string, normalize func(string) string) []string {
	result := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		n := normalize(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		result = append(result, n)
	}
	slices.Sort(result)
	return result
}
