package scheduler

import (
	"slices"
	"strings"
	"time"
)

// Weekdays use the integration's numbering, Monday=0 through Sunday=6.

var weekdayNames = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// AllWeekdays is every day of the week.
func AllWeekdays() []int {
	return []int{0, 1, 2, 3, 4, 5, 6}
}

// WorkWeekdays is Monday through Friday.
func WorkWeekdays() []int {
	return []int{0, 1, 2, 3, 4}
}

// WeekdayOf converts a time into the integration's weekday numbering.
func WeekdayOf(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 6
	}

	return wd - 1
}

// WeekdayName returns the short English name for a weekday, or an
// empty string when out of range.
func WeekdayName(day int) string {
	if day < 0 || day >= len(weekdayNames) {
		return ""
	}

	return weekdayNames[day]
}

// FormatWeekdays renders a weekday set for display: "Everyday" when
// all seven days are present, "Weekdays" for exactly Monday-Friday,
// otherwise "Every Mon, Wed, ..." in week order.
func FormatWeekdays(days []int) string {
	if len(days) == 0 {
		return ""
	}

	sorted := slices.Clone(days)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	if len(sorted) == 7 {
		return "Everyday"
	}

	if slices.Equal(sorted, WorkWeekdays()) {
		return "Weekdays"
	}

	names := make([]string, 0, len(sorted))
	for _, day := range sorted {
		if name := WeekdayName(day); name != "" {
			names = append(names, name)
		}
	}

	return "Every " + strings.Join(names, ", ")
}
