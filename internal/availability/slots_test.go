package availability

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type stubCalendar struct {
	busy []Interval
	err  error
}

func (s *stubCalendar) ListBusyIntervals(ctx context.Context, start, end time.Time) ([]Interval, error) {
	return s.busy, s.err
}

type stubStore struct {
	intervals []Interval
	err       error
}

func (s *stubStore) ListActiveIntervals(ctx context.Context, start, end time.Time) ([]Interval, error) {
	return s.intervals, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(base time.Time, hour, min int) time.Time {
	return base.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

// testCalc pins the clock to the day before the fixtures so no slot counts
// as already started.
func testCalc(cal Calendar, store AppointmentSource) *Calculator {
	calc := NewCalculator(DefaultBusinessHours(), cal, store, testLogger())
	calc.SetClock(func() time.Time { return monday.Add(-24 * time.Hour) })
	return calc
}

func TestSlotsMondayMorning(t *testing.T) {
	calc := testCalc(&stubCalendar{}, &stubStore{})

	slots, degraded, err := calc.Slots(context.Background(), at(monday, 9, 0), at(monday, 10, 0), 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if degraded {
		t.Fatal("unexpected degraded mode")
	}
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2: %+v", len(slots), slots)
	}
	want := []Slot{
		{Start: at(monday, 9, 0), End: at(monday, 9, 30), Available: true},
		{Start: at(monday, 9, 30), End: at(monday, 10, 0), Available: true},
	}
	for i, w := range want {
		if !slots[i].Start.Equal(w.Start) || !slots[i].End.Equal(w.End) || slots[i].Available != w.Available {
			t.Errorf("slot %d = %+v, want %+v", i, slots[i], w)
		}
	}
}

func TestSlotsSundayClosed(t *testing.T) {
	sunday := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	calc := testCalc(&stubCalendar{}, &stubStore{})

	slots, _, err := calc.Slots(context.Background(), at(sunday, 9, 0), at(sunday, 18, 0), 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots on a closed day, got %d", len(slots))
	}
}

func TestSlotsDiscardTrailingPartial(t *testing.T) {
	// Saturday closes at 16:00; 45-minute slots from 09:00 leave a 15-minute
	// tail that must not become a slot.
	saturday := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	calc := testCalc(&stubCalendar{}, &stubStore{})

	slots, _, err := calc.Slots(context.Background(), at(saturday, 9, 0), at(saturday, 16, 0), 45*time.Minute)
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	for _, s := range slots {
		if s.End.After(at(saturday, 16, 0)) {
			t.Fatalf("slot %+v extends past closing time", s)
		}
		if got := s.End.Sub(s.Start); got != 45*time.Minute {
			t.Fatalf("slot length %v, want 45m", got)
		}
	}
	// 09:00..16:00 is 420 minutes; 9 slots of 45m fit (405), the tail is dropped.
	if len(slots) != 9 {
		t.Fatalf("got %d slots, want 9", len(slots))
	}
}

func TestSlotsBusyIntervalsBlock(t *testing.T) {
	cal := &stubCalendar{busy: []Interval{{Start: at(monday, 9, 15), End: at(monday, 9, 45)}}}
	calc := testCalc(cal, &stubStore{})

	slots, _, err := calc.Slots(context.Background(), at(monday, 9, 0), at(monday, 10, 30), 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("got %d slots, want 3", len(slots))
	}
	// The busy interval straddles both of the first two slots.
	wantAvail := []bool{false, false, true}
	for i, w := range wantAvail {
		if slots[i].Available != w {
			t.Errorf("slot %d available = %v, want %v", i, slots[i].Available, w)
		}
	}
}

func TestSlotsLocalAppointmentsBlock(t *testing.T) {
	store := &stubStore{intervals: []Interval{{Start: at(monday, 9, 0), End: at(monday, 9, 30)}}}
	calc := testCalc(&stubCalendar{}, store)

	slots, _, err := calc.Slots(context.Background(), at(monday, 9, 0), at(monday, 10, 0), 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if slots[0].Available {
		t.Error("expected 09:00 slot to be unavailable")
	}
	if !slots[1].Available {
		t.Error("expected 09:30 slot to be available")
	}
}

func TestSlotsAlreadyStartedUnavailable(t *testing.T) {
	calc := testCalc(&stubCalendar{}, &stubStore{})
	calc.SetClock(func() time.Time { return at(monday, 9, 45) })

	slots, _, err := calc.Slots(context.Background(), at(monday, 9, 0), at(monday, 11, 0), 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("got %d slots, want 4", len(slots))
	}
	// 09:00 is over, 09:30 is underway; 10:00 and 10:30 remain bookable.
	wantAvail := []bool{false, false, true, true}
	for i, w := range wantAvail {
		if slots[i].Available != w {
			t.Errorf("slot starting %s available = %v, want %v", slots[i].Start.Format("15:04"), slots[i].Available, w)
		}
	}
}

func TestSlotsDegradedWhenCalendarFails(t *testing.T) {
	cal := &stubCalendar{err: errors.New("calendar down")}
	calc := testCalc(cal, &stubStore{})

	slots, degraded, err := calc.Slots(context.Background(), at(monday, 9, 0), at(monday, 10, 0), 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if !degraded {
		t.Fatal("expected degraded mode")
	}
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}
}

func TestSlotsInvalidRange(t *testing.T) {
	calc := testCalc(&stubCalendar{}, &stubStore{})

	if _, _, err := calc.Slots(context.Background(), at(monday, 10, 0), at(monday, 9, 0), 30*time.Minute); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for inverted range, got %v", err)
	}
	if _, _, err := calc.Slots(context.Background(), at(monday, 9, 0), at(monday, 10, 0), 5*time.Minute); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for bad duration, got %v", err)
	}
}

func TestSlotsIdempotent(t *testing.T) {
	cal := &stubCalendar{busy: []Interval{{Start: at(monday, 11, 0), End: at(monday, 12, 0)}}}
	calc := testCalc(cal, &stubStore{})

	first, _, err := calc.Slots(context.Background(), at(monday, 9, 0), at(monday, 18, 0), 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	second, _, err := calc.Slots(context.Background(), at(monday, 9, 0), at(monday, 18, 0), 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("slot counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("slot %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestParseBusinessHours(t *testing.T) {
	hours, err := ParseBusinessHours("mon-fri=09:00-18:00,sat=09:00-16:00")
	if err != nil {
		t.Fatalf("ParseBusinessHours failed: %v", err)
	}
	if _, ok := hours[time.Sunday]; ok {
		t.Error("sunday should be closed")
	}
	if win := hours[time.Wednesday]; win.OpenMinute != 9*60 || win.CloseMinute != 18*60 {
		t.Errorf("unexpected wednesday window: %+v", win)
	}
	if win := hours[time.Saturday]; win.CloseMinute != 16*60 {
		t.Errorf("unexpected saturday window: %+v", win)
	}

	for _, bad := range []string{"mon=25:00-26:00", "mon=18:00-09:00", "xyz=09:00-10:00", "mon"} {
		if _, err := ParseBusinessHours(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
