package tools

import (
	"regexp"
	"strings"
	"time"
)

var datePhrasePattern = regexp.MustCompile(
	`(?i)\b(next\s+(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|week|month)` +
		`|this\s+(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|week)` +
		`|monday|tuesday|wednesday|thursday|friday|saturday|sunday` +
		`|tomorrow|today)\b`)

var weekdayNames = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// ResolveDatePhrase extracts the first natural-language date phrase
// from text and resolves it against the reference clock. A bare
// weekday means the nearest occurrence on or after today, so "Monday"
// said on a Monday is today, not next week.
func ResolveDatePhrase(text string, now time.Time) (string, bool) {
	match := datePhrasePattern.FindString(text)
	if match == "" {
		return "", false
	}

	phrase := strings.ToLower(strings.Join(strings.Fields(match), " "))
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch {
	case phrase == "today", phrase == "this week":
		return today.Format("2006-01-02"), true
	case phrase == "tomorrow":
		return today.AddDate(0, 0, 1).Format("2006-01-02"), true
	case phrase == "next week":
		return today.AddDate(0, 0, 7).Format("2006-01-02"), true
	case phrase == "next month":
		return today.AddDate(0, 1, 0).Format("2006-01-02"), true
	case strings.HasPrefix(phrase, "next "):
		if wd, ok := weekdayNames[strings.TrimPrefix(phrase, "next ")]; ok {
			days := daysUntil(today.Weekday(), wd)
			if days == 0 {
				days = 7
			}
			return today.AddDate(0, 0, days).Format("2006-01-02"), true
		}
	case strings.HasPrefix(phrase, "this "):
		if wd, ok := weekdayNames[strings.TrimPrefix(phrase, "this ")]; ok {
			return today.AddDate(0, 0, daysUntil(today.Weekday(), wd)).Format("2006-01-02"), true
		}
	default:
		if wd, ok := weekdayNames[phrase]; ok {
			return today.AddDate(0, 0, daysUntil(today.Weekday(), wd)).Format("2006-01-02"), true
		}
	}
	return "", false
}

func daysUntil(from, to time.Weekday) int {
	return (int(to) - int(from) + 7) % 7
}

func todayDate() string {
	return time.Now().Format("2006-01-02")
}
