package stats

import (
	"fmt"
	"strings"
)

// thinSpace is the narrow no-break space used as thousands separator.
const thinSpace = " "

// FormatDataSize renders a byte count as megabytes with thin-space
// thousands grouping, e.g. "1 234.56 MB".
func FormatDataSize(bytes int64) string {
	megabytes := float64(bytes) / (1024.0 * 1024.0)
	if megabytes < 0.01 {
		return "0.00" + thinSpace + "MB"
	}

	formatted := fmt.Sprintf("%.2f", megabytes)
	parts := strings.SplitN(formatted, ".", 2)
	integerPart := parts[0]
	decimalPart := "00"
	if len(parts) > 1 {
		decimalPart = parts[1]
	}

	return groupThousands(integerPart) + "." + decimalPart + thinSpace + "MB"
}

// groupThousands inserts a thin space every three digits, right to left.
func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteString(thinSpace)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// FormatListeningTime renders accrued listening time in ms as a compact
// "2h 3m 4s" style string, growing to days and weeks when needed.
func FormatListeningTime(ms int64) string {
	totalSeconds := ms / 1000
	weeks := totalSeconds / (7 * 24 * 3600)
	days := (totalSeconds % (7 * 24 * 3600)) / (24 * 3600)
	hours := (totalSeconds % (24 * 3600)) / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	switch {
	case weeks > 0:
		return fmt.Sprintf("%dw %dd %dh %dm %ds", weeks, days, hours, minutes, seconds)
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
