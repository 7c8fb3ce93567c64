// Package format renders values for humans: byte counts, large numbers,
// relative times, and cron schedule descriptions. Output is for display
// only and must never be parsed back.
package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Bytes formats a byte count with binary units, e.g. "1.5 GiB".
func Bytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Number formats an integer with locale-aware grouping, e.g. "1,234,567".
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// Percentage formats a 0..1 ratio as a percentage with the given number
// of decimal places.
func Percentage(ratio float64, decimals int) string {
	return strconv.FormatFloat(ratio*100, 'f', decimals, 64) + "%"
}

// RelativeTime renders how long ago (or until) t is, e.g. "3m ago",
// "in 2h", "just now".
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	d := time.Since(t)
	future := d < 0
	if future {
		d = -d
	}
	if d < 5*time.Second {
		return "just now"
	}

	var span string
	switch {
	case d < time.Minute:
		span = fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		span = fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		span = fmt.Sprintf("%dh", int(d.Hours()))
	default:
		span = fmt.Sprintf("%dd", int(d.Hours()/24))
	}

	if future {
		return "in " + span
	}
	return span + " ago"
}

// CronDescription renders a readable summary of a standard 5-field cron
// expression. Unrecognized shapes are returned unchanged.
func CronDescription(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return expr
	}
	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	if dom != "*" || month != "*" || dow != "*" {
		return expr
	}

	switch {
	case minute == "*" && hour == "*":
		return "every minute"
	case strings.HasPrefix(minute, "*/") && hour == "*":
		return "every " + strings.TrimPrefix(minute, "*/") + " minutes"
	case hour == "*":
		return "hourly at :" + pad2(minute)
	case strings.HasPrefix(hour, "*/"):
		return fmt.Sprintf("every %s hours at :%s", strings.TrimPrefix(hour, "*/"), pad2(minute))
	default:
		return fmt.Sprintf("daily at %s:%s", pad2(hour), pad2(minute))
	}
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
