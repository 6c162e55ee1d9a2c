package availability

import (
	"fmt"
	"strings"
	"time"
)

// Window is an open interval within a single day, expressed as minutes from
// midnight local time.
type Window struct {
	OpenMinute  int
	CloseMinute int
}

// BusinessHours maps weekdays to their opening window. A weekday with no
// entry is closed.
type BusinessHours map[time.Weekday]Window

// DefaultBusinessHours returns the shop schedule: Mon-Fri 09:00-18:00,
// Sat 09:00-16:00, closed Sunday.
func DefaultBusinessHours() BusinessHours {
	hours := BusinessHours{}
	for d := time.Monday; d <= time.Friday; d++ {
		hours[d] = Window{OpenMinute: 9 * 60, CloseMinute: 18 * 60}
	}
	hours[time.Saturday] = Window{OpenMinute: 9 * 60, CloseMinute: 16 * 60}
	return hours
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseBusinessHours parses a schedule string such as
// "mon-fri=09:00-18:00,sat=09:00-16:00". Days not mentioned are closed.
// An empty string yields the default schedule.
func ParseBusinessHours(raw string) (BusinessHours, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultBusinessHours(), nil
	}

	hours := BusinessHours{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		days, window, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid business hours entry %q", entry)
		}
		win, err := parseWindow(window)
		if err != nil {
			return nil, fmt.Errorf("invalid business hours entry %q: %w", entry, err)
		}
		weekdays, err := parseDays(days)
		if err != nil {
			return nil, fmt.Errorf("invalid business hours entry %q: %w", entry, err)
		}
		for _, d := range weekdays {
			hours[d] = win
		}
	}
	if len(hours) == 0 {
		return nil, fmt.Errorf("business hours %q define no open days", raw)
	}
	return hours, nil
}

func parseDays(raw string) ([]time.Weekday, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if from, to, ok := strings.Cut(raw, "-"); ok {
		start, okFrom := weekdayNames[strings.TrimSpace(from)]
		end, okTo := weekdayNames[strings.TrimSpace(to)]
		if !okFrom || !okTo || start > end {
			return nil, fmt.Errorf("bad day range %q", raw)
		}
		var out []time.Weekday
		for d := start; d <= end; d++ {
			out = append(out, d)
		}
		return out, nil
	}
	d, ok := weekdayNames[raw]
	if !ok {
		return nil, fmt.Errorf("unknown day %q", raw)
	}
	return []time.Weekday{d}, nil
}

func parseWindow(raw string) (Window, error) {
	open, close, ok := strings.Cut(strings.TrimSpace(raw), "-")
	if !ok {
		return Window{}, fmt.Errorf("bad window %q", raw)
	}
	openMin, err := parseClock(open)
	if err != nil {
		return Window{}, err
	}
	closeMin, err := parseClock(close)
	if err != nil {
		return Window{}, err
	}
	if closeMin <= openMin {
		return Window{}, fmt.Errorf("window %q closes before it opens", raw)
	}
	return Window{OpenMinute: openMin, CloseMinute: closeMin}, nil
}

func parseClock(raw string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("bad clock time %q", raw)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// WindowFor returns the opening window for the day containing t, in t's
// location. ok is false on closed days.
func (h BusinessHours) WindowFor(t time.Time) (open, close time.Time, ok bool) {
	win, found := h[t.Weekday()]
	if !found {
		return time.Time{}, time.Time{}, false
	}
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	open = midnight.Add(time.Duration(win.OpenMinute) * time.Minute)
	close = midnight.Add(time.Duration(win.CloseMinute) * time.Minute)
	return open, close, true
}
