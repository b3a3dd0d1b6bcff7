package util

import "strings"

// LogPrefixLength is how much of a secret artifact may appear in a log line.
const LogPrefixLength = 8

// SafeTruncate returns at most maxLen bytes of s. Negative maxLen yields "".
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Prefix returns the log-safe prefix of a code or token.
func Prefix(secret string) string {
	return SafeTruncate(secret, LogPrefixLength)
}

// NormalizeURL strips trailing slashes so that issuers compare equal
// regardless of how they were configured.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
