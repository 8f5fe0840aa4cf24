package market

import (
	"strconv"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// Day is a UTC calendar day counted from the Unix epoch.
type Day int64

// DayOf returns the day containing t.
func DayOf(t time.Time) Day {
	sec := t.Unix()
	d := sec / secondsPerDay
	if sec%secondsPerDay < 0 {
		d--
	}
	return Day(d)
}

// Start returns midnight UTC at the beginning of d.
func (d Day) Start() time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

// Prev returns the day before d.
func (d Day) Prev() Day {
	return d - 1
}

// String renders the day as its calendar date.
func (d Day) String() string {
	return d.Start().Format(time.DateOnly)
}

// ParseDay accepts either a calendar date (2006-01-02) or a raw day number.
func ParseDay(s string) (Day, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return DayOf(t), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return Day(n), nil
}
