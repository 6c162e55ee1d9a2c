package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/metisconnect/metis-backend/internal/model"
)

var ErrInvalidRange = errors.New("invalid availability range")

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports half-open interval overlap with [start, end).
func (i Interval) Overlaps(start, end time.Time) bool {
	return start.Before(i.End) && i.Start.Before(end)
}

// Slot is a candidate bookable interval. Slots are computed on demand and
// never persisted.
type Slot struct {
	Start     time.Time
	End       time.Time
	Available bool
}

// Calendar lists externally booked intervals. Implementations must be safe
// for concurrent use.
type Calendar interface {
	ListBusyIntervals(ctx context.Context, start, end time.Time) ([]Interval, error)
}

// AppointmentSource lists the windows of non-cancelled appointments in the
// local store.
type AppointmentSource interface {
	ListActiveIntervals(ctx context.Context, start, end time.Time) ([]Interval, error)
}

type Calculator struct {
	hours    BusinessHours
	calendar Calendar
	store    AppointmentSource
	logger   *slog.Logger
	now      func() time.Time
}

func NewCalculator(hours BusinessHours, calendar Calendar, store AppointmentSource, logger *slog.Logger) *Calculator {
	return &Calculator{hours: hours, calendar: calendar, store: store, logger: logger, now: time.Now}
}

// SetClock replaces the wall clock used to mark already-started slots.
func (c *Calculator) SetClock(fn func() time.Time) {
	c.now = fn
}

// Slots computes the bookable slots of exactly duration length inside
// [rangeStart, rangeEnd). Candidate slots step through each open day's window
// from opening time; a trailing slot that would cross closing time is
// discarded. A slot is unavailable when it has already started, when it
// overlaps an external busy interval, or when it overlaps a non-cancelled
// local appointment.
//
// degraded is true when the external calendar could not be reached; conflict
// checking then covers the local store only and callers must surface that.
func (c *Calculator) Slots(ctx context.Context, rangeStart, rangeEnd time.Time, duration time.Duration) (slots []Slot, degraded bool, err error) {
	if !rangeEnd.After(rangeStart) {
		return nil, false, fmt.Errorf("%w: start must precede end", ErrInvalidRange)
	}
	minutes := int(duration / time.Minute)
	if minutes < model.MinDurationMinutes || minutes > model.MaxDurationMinutes {
		return nil, false, fmt.Errorf("%w: duration must be %d-%d minutes", ErrInvalidRange, model.MinDurationMinutes, model.MaxDurationMinutes)
	}

	var busy []Interval
	if c.calendar != nil {
		busy, err = c.listBusy(ctx, rangeStart, rangeEnd)
		if err != nil {
			degraded = true
			c.logger.Warn("calendar unreachable, availability degraded to local conflicts only", "err", err)
		}
	} else {
		degraded = true
	}

	local, err := c.store.ListActiveIntervals(ctx, rangeStart, rangeEnd)
	if err != nil {
		return nil, degraded, fmt.Errorf("list local appointments: %w", err)
	}
	busy = append(busy, local...)

	now := c.now()
	day := time.Date(rangeStart.Year(), rangeStart.Month(), rangeStart.Day(), 0, 0, 0, 0, rangeStart.Location())
	for !day.After(rangeEnd) {
		open, close, ok := c.hours.WindowFor(day)
		if ok {
			for t := open; !t.Add(duration).After(close); t = t.Add(duration) {
				end := t.Add(duration)
				if t.Before(rangeStart) || end.After(rangeEnd) {
					continue
				}
				slots = append(slots, Slot{
					Start:     t,
					End:       end,
					Available: !t.Before(now) && !overlapsAny(t, end, busy),
				})
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return slots, degraded, nil
}

func (c *Calculator) listBusy(ctx context.Context, start, end time.Time) ([]Interval, error) {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.calendar.ListBusyIntervals(callCtx, start, end)
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}
