package util

import (
	"regexp"
	"strings"
)

var (
	sanitizeRegexp = regexp.MustCompile(`[^a-z0-9_-]`)
	countryRegexp  = regexp.MustCompile(`^[a-zA-Z]{3}`)
)

// SanitizeCommand converts a CLI command into a filename-safe token:
// lowercase, spaces become underscores, slashes become dashes, and any
// remaining character outside [a-z0-9_-] is stripped.
//
//	"show ospf neighbor"  -> "show_ospf_neighbor"
//	"show run | inc ospf" -> "show_run__inc_ospf"
func SanitizeCommand(command string) string {
	s := strings.ToLower(strings.TrimSpace(command))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "/", "-")
	return sanitizeRegexp.ReplaceAllString(s, "")
}

// CountryFromHostname derives an ISO 3166-1 alpha-3 country tag from the
// first three characters of a hostname ("zwe-r1" -> "ZWE"). Returns "UNK"
// when the prefix is not alphabetic.
func CountryFromHostname(hostname string) string {
	m := countryRegexp.FindString(hostname)
	if m == "" {
		return "UNK"
	}
	return strings.ToUpper(m)
}

// SplitCommaSeparated splits a comma separated string, trimming whitespace
// and dropping empty elements.
func SplitCommaSeparated(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Dedupe returns the elements of s in order with duplicates removed.
func Dedupe(s []string) []string {
	seen := make(map[string]struct{}, len(s))
	var out []string
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
