// Package logger holds small logging helpers shared across the service.
// Log output itself goes through the stdlib log package; this package only
// guards what ends up inside the lines.
package logger

import "strings"

// RedactPath shortens an absolute file path to its final element so log lines
// don't leak directory layouts from operator machines.
func RedactPath(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 && i < len(p)-1 {
		return ".../" + p[i+1:]
	}
	return p
}
