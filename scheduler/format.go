package scheduler

import (
	"fmt"
	"time"
)

// FormatTimeUntil renders a countdown to target as "2h 5m 30s" or
// "5m 30s", or "now" once the target has passed. Used for subtitles
// that tick every second.
func FormatTimeUntil(target, now time.Time) string {
	diff := target.Sub(now)
	if diff <= 0 {
		return "now"
	}

	total := int(diff.Seconds())
	hours := total / 3600
	minutes := (total / 60) % 60
	seconds := total % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}

	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

// FormatDateTime renders an absolute time as "Today, 15:04",
// "Tomorrow, 15:04" or "02.01 15:04".
func FormatDateTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	clock := t.Format("15:04")
	days := daysBetween(now, t)

	switch days {
	case 0:
		return "Today, " + clock
	case 1:
		return "Tomorrow, " + clock
	default:
		return t.Format("02.01") + " " + clock
	}
}

// FormatNextRun renders an upcoming slot start for the slots card:
// within the hour a live countdown ("in 5m 30s"), today or tomorrow
// with a clock time, further out with the weekday name. duration adds
// a " for ..." suffix when the slot has one.
func FormatNextRun(start, now time.Time, duration int) string {
	diff := start.Sub(now)
	if diff < 0 {
		return ""
	}

	suffix := FormatDuration(duration)
	days := daysBetween(now, start)
	clock := start.Format("15:04")

	if days == 0 && diff < time.Hour {
		total := int(diff.Seconds())
		minutes := total / 60
		seconds := total % 60

		if minutes == 0 {
			return fmt.Sprintf("in %ds%s", total, suffix)
		}

		return fmt.Sprintf("in %dm %ds%s", minutes, seconds, suffix)
	}

	switch days {
	case 0:
		return "Today " + clock + suffix
	case 1:
		return "Tomorrow " + clock + suffix
	default:
		return start.Format("Mon") + " " + clock + suffix
	}
}

// FormatDuration renders a slot duration as a " for ..." suffix:
// " for 45 min", " for 2 hours" or " for 1h 30min". Empty for zero.
func FormatDuration(minutes int) string {
	if minutes <= 0 {
		return ""
	}

	if minutes <= 60 {
		return fmt.Sprintf(" for %d min", minutes)
	}

	hours := minutes / 60
	rest := minutes % 60

	if rest == 0 {
		unit := "hours"
		if hours == 1 {
			unit = "hour"
		}

		return fmt.Sprintf(" for %d %s", hours, unit)
	}

	return fmt.Sprintf(" for %dh %dmin", hours, rest)
}

// FormatMaxRuntime renders a runtime cap for display: "45 min",
// "1 hour", "2 hours". Empty when no cap applies.
func FormatMaxRuntime(minutes int) string {
	switch {
	case minutes <= 0:
		return ""
	case minutes < 60:
		return fmt.Sprintf("%d min", minutes)
	case minutes == 60:
		return "1 hour"
	default:
		return fmt.Sprintf("%d hours", minutes/60)
	}
}

// FormatRunsSince renders how long an entity has been running from
// its last state change: "just now", "since 14:30 (12 min ago)",
// "since 12:00 (2h ago)" or "since 12:00 (2h 15min ago)". Empty when
// the change time is unknown or in the future.
func FormatRunsSince(lastChanged, now time.Time) string {
	if lastChanged.IsZero() || lastChanged.After(now) {
		return ""
	}

	minutes := int(now.Sub(lastChanged).Minutes())
	if minutes < 1 {
		return "just now"
	}

	at := lastChanged.Format("15:04")

	if minutes < 60 {
		return fmt.Sprintf("since %s (%d min ago)", at, minutes)
	}

	hours := minutes / 60
	rest := minutes % 60

	if rest == 0 {
		return fmt.Sprintf("since %s (%dh ago)", at, hours)
	}

	return fmt.Sprintf("since %s (%dh %dmin ago)", at, hours, rest)
}

// DurationParts splits a duration in minutes into the number and unit
// shown on a button face: 45 → ("45", "min"), 120 → ("2", "hours"),
// 90 → ("1h 30", "min").
func DurationParts(minutes int) (number, unit string) {
	if minutes < 1 {
		return "0", "min"
	}

	if minutes < 60 {
		return fmt.Sprintf("%d", minutes), "min"
	}

	hours := minutes / 60
	rest := minutes % 60

	if rest == 0 {
		unit := "hours"
		if hours == 1 {
			unit = "hour"
		}

		return fmt.Sprintf("%d", hours), unit
	}

	return fmt.Sprintf("%dh %d", hours, rest), "min"
}

// daysBetween counts whole calendar days between the dates of a and
// b, ignoring the time of day.
func daysBetween(a, b time.Time) int {
	aDay := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, a.Location())
	bDay := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, b.Location())

	return int(bDay.Sub(aDay).Hours() / 24)
}
