package common

import (
	"fmt"
	"time"
)

// TradingWindow describes when knock-out quotes move: the venue's working
// days and its daily open and close in the venue timezone.
type TradingWindow struct {
	Location    *time.Location
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
	WorkingDays []time.Weekday
	Holidays    []time.Time
}

// DefaultWorkingDays returns Monday to Friday.
func DefaultWorkingDays() []time.Weekday {
	return []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
}

// NewTradingWindow builds a window from config strings. open and close are
// "HH:MM"; holidays are "2006-01-02" dates in the venue timezone.
func NewTradingWindow(timezone, open, close string, holidays []string) (*TradingWindow, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}

	w := &TradingWindow{Location: loc, WorkingDays: DefaultWorkingDays()}
	if w.OpenHour, w.OpenMinute, err = parseClock(open); err != nil {
		return nil, fmt.Errorf("invalid open time: %w", err)
	}
	if w.CloseHour, w.CloseMinute, err = parseClock(close); err != nil {
		return nil, fmt.Errorf("invalid close time: %w", err)
	}
	if w.OpenHour*60+w.OpenMinute >= w.CloseHour*60+w.CloseMinute {
		return nil, fmt.Errorf("open %s must be before close %s", open, close)
	}

	for _, h := range holidays {
		d, err := time.ParseInLocation("2006-01-02", h, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		w.Holidays = append(w.Holidays, d)
	}
	return w, nil
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// IsOpen reports whether t falls inside the window.
func (w *TradingWindow) IsOpen(t time.Time) bool {
	local := t.In(w.Location)
	if !IsWorkingDay(local, w.WorkingDays, w.Holidays) {
		return false
	}
	open, close := w.sessionBounds(local)
	return !local.Before(open) && local.Before(close)
}

// NextOpen returns the next session open at or after t, or t itself when the
// window is open.
func (w *TradingWindow) NextOpen(t time.Time) time.Time {
	if w.IsOpen(t) {
		return t
	}
	local := t.In(w.Location)
	if IsWorkingDay(local, w.WorkingDays, w.Holidays) {
		if open, _ := w.sessionBounds(local); local.Before(open) {
			return open
		}
	}
	next := GetNextTradingDay(local, w.WorkingDays, w.Holidays)
	open, _ := w.sessionBounds(next)
	return open
}

func (w *TradingWindow) sessionBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	return time.Date(y, m, d, w.OpenHour, w.OpenMinute, 0, 0, w.Location),
		time.Date(y, m, d, w.CloseHour, w.CloseMinute, 0, 0, w.Location)
}

// IsWorkingDay checks if the calendar date of t is a working day.
// It accounts for both weekends (based on workingDays) and holidays.
func IsWorkingDay(t time.Time, workingDays []time.Weekday, holidays []time.Time) bool {
	dayOfWeek := t.Weekday()
	isWorkDay := false
	for _, wd := range workingDays {
		if wd == dayOfWeek {
			isWorkDay = true
			break
		}
	}
	if !isWorkDay {
		return false
	}

	ty, tm, td := t.Date()
	for _, h := range holidays {
		hy, hm, hd := h.Date()
		if ty == hy && tm == hm && td == hd {
			return false
		}
	}

	return true
}

// GetNextTradingDay returns midnight of the next trading day after t, in t's
// location. It walks forward at most 10 days (long holiday periods).
func GetNextTradingDay(t time.Time, workingDays []time.Weekday, holidays []time.Time) time.Time {
	y, m, d := t.Date()
	current := time.Date(y, m, d, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)

	for i := 0; i < 10; i++ {
		if IsWorkingDay(current, workingDays, holidays) {
			return current
		}
		current = current.AddDate(0, 0, 1)
	}

	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}
