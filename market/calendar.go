package market

import (
	"time"

	"github.com/scmhub/calendar"
)

// exchangeMIC maps a storage exchange code to its ISO 10383 MIC. Only exchanges
// with a published calendar are listed; futures exchanges use stored dates or weekdays.
var exchangeMIC = map[string]string{
	"sh":     "xshg",
	"sz":     "xshe",
	"nasdaq": "xnas",
	"nyse":   "xnys",
	"amex":   "xnys",
}

// Calendar 交易日历. Stored dates win; otherwise the exchange calendar is used,
// and when that is unknown too, or the day lies outside the years it covers,
// every weekday is a trading day.
type Calendar struct {
	dates    map[string]struct{}
	exchange *calendar.Calendar
}

// NewCalendar builds a calendar from stored trading dates (may be empty).
func NewCalendar(exchange string, dates []time.Time) *Calendar {
	c := &Calendar{}
	if len(dates) > 0 {
		c.dates = make(map[string]struct{}, len(dates))
		for _, d := range dates {
			c.dates[FormatDay(d)] = struct{}{}
		}
		return c
	}
	if mic, ok := exchangeMIC[exchange]; ok {
		c.exchange = calendar.GetCalendar(mic)
	}
	return c
}

// IsTradingDay reports whether the exchange trades on day.
func (c *Calendar) IsTradingDay(day time.Time) bool {
	if c.dates != nil {
		_, ok := c.dates[FormatDay(day)]
		return ok
	}
	if c.exchange != nil {
		y, m, d := day.Date()
		if first, last := c.exchange.Years(); y >= first && y <= last {
			loc := c.exchange.Loc
			if loc == nil {
				loc = time.UTC
			}
			return c.exchange.IsBusinessDay(time.Date(y, m, d, 12, 0, 0, 0, loc))
		}
	}
	wd := day.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// TradingDays lists trading days in [start, end], both inclusive.
func (c *Calendar) TradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	for d := Day(start); !d.After(Day(end)); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}
