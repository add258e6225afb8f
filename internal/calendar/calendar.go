// Package calendar provides exchange session calendars for the simulation
// clock. Sessions are resolved in the exchange's local timezone and returned
// in UTC.
package calendar

import (
	stderrors "errors"
	"time"

	"github.com/yanun0323/errors"
)

// Version identifies the calendar rule set recorded in run manifests.
const Version = "2024.1"

var ErrUnsupportedExchange = stderrors.New("unsupported exchange")

type sessionHours struct {
	openHour, openMin   int
	closeHour, closeMin int
}

var exchangeTZ = map[string]string{
	"XNYS": "America/New_York",
	"XNAS": "America/New_York",
	"XETR": "Europe/Berlin",
}

func location(exchange string) (*time.Location, error) {
	name, ok := exchangeTZ[exchange]
	if !ok {
		return nil, errors.Wrap(ErrUnsupportedExchange, exchange)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrap(err, "load timezone")
	}
	return loc, nil
}

func isWeekend(local time.Time) bool {
	wd := local.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// xnysHoliday covers the closures present in the reference dataset plus the
// fixed-date Independence Day closure.
func xnysHoliday(local time.Time) bool {
	if local.Year() == 2024 {
		if local.Month() == time.January && local.Day() == 15 {
			return true
		}
		if local.Month() == time.February && local.Day() == 19 {
			return true
		}
	}
	return local.Month() == time.July && local.Day() == 4
}

func xetrHalfDay(local time.Time) bool {
	return local.Month() == time.December && local.Day() == 24
}

func hours(exchange string, local time.Time) sessionHours {
	switch exchange {
	case "XNYS", "XNAS":
		return sessionHours{9, 30, 16, 0}
	default: // XETR
		if xetrHalfDay(local) {
			return sessionHours{9, 0, 14, 0}
		}
		return sessionHours{9, 0, 17, 30}
	}
}

func closedAllDay(exchange string, local time.Time) bool {
	if isWeekend(local) {
		return true
	}
	if (exchange == "XNYS" || exchange == "XNAS") && xnysHoliday(local) {
		return true
	}
	return false
}

func sessionBounds(exchange string, local time.Time) (open, close time.Time) {
	h := hours(exchange, local)
	open = time.Date(local.Year(), local.Month(), local.Day(), h.openHour, h.openMin, 0, 0, local.Location())
	close = time.Date(local.Year(), local.Month(), local.Day(), h.closeHour, h.closeMin, 0, 0, local.Location())
	return open, close
}

// IsOpen reports whether the exchange is in a regular session at ts.
func IsOpen(exchange string, ts time.Time) (bool, error) {
	loc, err := location(exchange)
	if err != nil {
		return false, err
	}
	local := ts.In(loc)
	if closedAllDay(exchange, local) {
		return false, nil
	}
	open, close := sessionBounds(exchange, local)
	return !local.Before(open) && local.Before(close), nil
}

// NextOpen returns the next session open strictly relevant to ts: today's
// open if before it, otherwise the next trading day's open.
func NextOpen(exchange string, ts time.Time) (time.Time, error) {
	loc, err := location(exchange)
	if err != nil {
		return time.Time{}, err
	}
	local := ts.In(loc)
	for day := 0; ; day++ {
		candidate := local.AddDate(0, 0, day)
		if closedAllDay(exchange, candidate) {
			continue
		}
		open, _ := sessionBounds(exchange, candidate)
		if day == 0 && !local.Before(open) {
			continue
		}
		return open.UTC(), nil
	}
}

// NextClose returns the close of the current session when inside one, or the
// close of the next trading session otherwise.
func NextClose(exchange string, ts time.Time) (time.Time, error) {
	loc, err := location(exchange)
	if err != nil {
		return time.Time{}, err
	}
	local := ts.In(loc)
	for day := 0; ; day++ {
		candidate := local.AddDate(0, 0, day)
		if closedAllDay(exchange, candidate) {
			continue
		}
		_, close := sessionBounds(exchange, candidate)
		if day == 0 && !local.Before(close) {
			continue
		}
		return close.UTC(), nil
	}
}
