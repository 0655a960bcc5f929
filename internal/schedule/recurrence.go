// Package schedule computes due dates for recurring templates
// (bills, inspections, birthdays).
package schedule

import (
	"strings"
	"time"
)

const (
	Yearly  = "YEARLY"
	Monthly = "MONTHLY"
	Weekly  = "WEEKLY"
)

const dateLayout = "2006-01-02"

// NextDue advances anchor by one recurrence period and returns the
// resulting yyyy-mm-dd date. Day-of-month is clamped so Jan 31 + MONTHLY
// lands on the last day of February rather than overflowing into March.
// Unknown recurrence strings and unparseable anchors return ok=false.
func NextDue(anchor, recurrence string) (string, bool) {
	anchor = strings.TrimSpace(anchor)
	if len(anchor) > 10 {
		anchor = anchor[:10]
	}
	d, err := time.Parse(dateLayout, anchor)
	if err != nil {
		return "", false
	}

	switch strings.ToUpper(strings.TrimSpace(recurrence)) {
	case Yearly:
		return addClamped(d, 1, 0), true
	case Monthly:
		return addClamped(d, 0, 1), true
	case Weekly:
		return d.AddDate(0, 0, 7).Format(dateLayout), true
	default:
		return "", false
	}
}

// addClamped adds years/months keeping the day-of-month, clamped to the
// target month's length (time.AddDate would normalize Feb 30 to Mar 2).
func addClamped(d time.Time, years, months int) string {
	year := d.Year() + years
	month := int(d.Month()) + months
	for month > 12 {
		month -= 12
		year++
	}

	day := d.Day()
	if last := daysInMonth(year, time.Month(month)); day > last {
		day = last
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Format(dateLayout)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
