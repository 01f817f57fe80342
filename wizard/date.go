package wizard

import (
	"fmt"
	"strconv"
	"time"

	"orderbot/ui"
)

// yearsAhead is how many years past the current one the picker offers.
const yearsAhead = 2

// DateSelection is the partial deadline a user is building with the
// year, month and day menus.
type DateSelection struct {
	Year  int
	Month int
	Day   int
}

// DaysIn is the length of month in year, leap years included.
func DaysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DayOptions lists the selectable days of year-month. Days before from are
// left out; a zero from keeps every day.
func DayOptions(year, month int, from time.Time) []int {
	n := DaysIn(year, month)
	first := 1
	if !from.IsZero() {
		fy, fm, fd := from.Date()
		switch {
		case year < fy || year == fy && month < int(fm):
			return nil
		case year == fy && month == int(fm):
			first = fd
		}
	}
	out := make([]int, 0, n)
	for d := first; d <= n; d++ {
		out = append(out, d)
	}
	return out
}

func yearOptions(today time.Time) []int {
	out := make([]int, 0, yearsAhead+1)
	for y := today.Year(); y <= today.Year()+yearsAhead; y++ {
		out = append(out, y)
	}
	return out
}

func monthOptions(year int, today time.Time) []int {
	first := 1
	if year == today.Year() {
		first = int(today.Month())
	}
	out := make([]int, 0, 12)
	for m := first; m <= 12; m++ {
		out = append(out, m)
	}
	return out
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// dayChunks splits days into menus of at most ui.MaxMenuOptions entries.
func dayChunks(days []int) [][]int {
	var out [][]int
	for len(days) > ui.MaxMenuOptions {
		out = append(out, days[:ui.MaxMenuOptions])
		days = days[ui.MaxMenuOptions:]
	}
	if len(days) > 0 {
		out = append(out, days)
	}
	return out
}

// parseDeadline accepts YYYY-MM-DD within the offered years and not before
// today.
func parseDeadline(text string, today time.Time) (string, error) {
	d, err := time.Parse(dateLayout, text)
	if err != nil {
		return "", &ValidationError{Field: "deadline", Reason: "use the format YYYY-MM-DD"}
	}
	if !contains(DayOptions(d.Year(), int(d.Month()), today), d.Day()) || !contains(yearOptions(today), d.Year()) {
		return "", &ValidationError{Field: "deadline", Reason: fmt.Sprintf("%s is not an available date", text)}
	}
	return d.Format(dateLayout), nil
}

func formatDate(year, month, day int) string {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Format(dateLayout)
}

func parseInt(field, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, &ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a number", value)}
	}
	return n, nil
}
