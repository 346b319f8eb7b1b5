package util

import "fmt"

// DefaultLogMaxLen caps request bodies kept on failed-attempt log entries.
// The live response always carries the full upstream payload.
const DefaultLogMaxLen = 8 * 1024

// TruncateLog shortens long strings before they land in diagnostics, noting
// the original size.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes applies TruncateLog with the default cap.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}
