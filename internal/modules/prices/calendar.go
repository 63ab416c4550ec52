package prices

import (
	"time"

	"github.com/marketecho/marketecho/internal/utils"
)

// Calendar answers trading-day questions for US equity markets.
// Weekends and the usual NYSE full-day holidays are non-trading days.
// The holiday set is computed per year and cached; all arithmetic is
// deterministic so window placement is reproducible across runs.
type Calendar struct {
	holidays map[int]map[string]bool
}

// NewCalendar creates a trading calendar.
func NewCalendar() *Calendar {
	return &Calendar{holidays: make(map[int]map[string]bool)}
}

// IsTradingDay reports whether the given date ("YYYY-MM-DD") is a trading day.
func (c *Calendar) IsTradingDay(date string) bool {
	t, err := utils.ParseDate(date)
	if err != nil {
		return false
	}
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !c.holidaySet(t.Year())[date]
}

// NextTradingDay returns the first trading day on or after date.
func (c *Calendar) NextTradingDay(date string) string {
	t, err := utils.ParseDate(date)
	if err != nil {
		return date
	}
	for !c.IsTradingDay(utils.FormatDate(t)) {
		t = t.AddDate(0, 0, 1)
	}
	return utils.FormatDate(t)
}

// PrevTradingDay returns the last trading day on or before date.
func (c *Calendar) PrevTradingDay(date string) string {
	t, err := utils.ParseDate(date)
	if err != nil {
		return date
	}
	for !c.IsTradingDay(utils.FormatDate(t)) {
		t = t.AddDate(0, 0, -1)
	}
	return utils.FormatDate(t)
}

// AddTradingDays moves n trading days from date (negative n moves backwards).
// The starting date itself is not counted; if date is a non-trading day the
// walk starts from it as-is.
func (c *Calendar) AddTradingDays(date string, n int) string {
	t, err := utils.ParseDate(date)
	if err != nil {
		return date
	}

	step := 1
	if n < 0 {
		step = -1
		n = -n
	}

	for n > 0 {
		t = t.AddDate(0, 0, step)
		if c.IsTradingDay(utils.FormatDate(t)) {
			n--
		}
	}
	return utils.FormatDate(t)
}

// TradingDaysBetween counts trading days in (from, to], for from <= to.
func (c *Calendar) TradingDaysBetween(from, to string) int {
	start, err := utils.ParseDate(from)
	if err != nil {
		return 0
	}
	end, err := utils.ParseDate(to)
	if err != nil {
		return 0
	}

	count := 0
	for t := start.AddDate(0, 0, 1); !t.After(end); t = t.AddDate(0, 0, 1) {
		if c.IsTradingDay(utils.FormatDate(t)) {
			count++
		}
	}
	return count
}

// TradingDays lists all trading days in [from, to] in increasing order.
func (c *Calendar) TradingDays(from, to string) []string {
	start, err := utils.ParseDate(from)
	if err != nil {
		return nil
	}
	end, err := utils.ParseDate(to)
	if err != nil {
		return nil
	}

	var days []string
	for t := start; !t.After(end); t = t.AddDate(0, 0, 1) {
		if d := utils.FormatDate(t); c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

func (c *Calendar) holidaySet(year int) map[string]bool {
	if set, ok := c.holidays[year]; ok {
		return set
	}

	set := make(map[string]bool)
	add := func(t time.Time) { set[utils.FormatDate(t)] = true }

	// Fixed-date holidays shift to the nearest weekday when they land on a
	// weekend (Saturday observed Friday, Sunday observed Monday).
	add(observed(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)))
	add(nthWeekday(year, time.January, time.Monday, 3))   // Martin Luther King Jr. Day
	add(nthWeekday(year, time.February, time.Monday, 3))  // Washington's Birthday
	add(easterSunday(year).AddDate(0, 0, -2))             // Good Friday
	add(lastWeekday(year, time.May, time.Monday))         // Memorial Day
	if year >= 2022 {
		add(observed(time.Date(year, time.June, 19, 0, 0, 0, 0, time.UTC))) // Juneteenth
	}
	add(observed(time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC)))
	add(nthWeekday(year, time.September, time.Monday, 1))  // Labor Day
	add(nthWeekday(year, time.November, time.Thursday, 4)) // Thanksgiving
	add(observed(time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC)))

	c.holidays[year] = set
	return set
}

func observed(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}

func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for t.Weekday() != weekday {
		t = t.AddDate(0, 0, 1)
	}
	return t.AddDate(0, 0, 7*(n-1))
}

func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	t := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for t.Weekday() != weekday {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// easterSunday computes Gregorian Easter via the anonymous computus.
func easterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
