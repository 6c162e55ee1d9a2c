package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/metisconnect/metis-backend/internal/availability"
	"github.com/metisconnect/metis-backend/internal/model"
	"github.com/metisconnect/metis-backend/internal/outbox"
)

type memStore struct {
	mu     sync.Mutex
	seq    int
	appts  map[string]model.Appointment
	events []outbox.Event
	getErr error
}

func newMemStore() *memStore {
	return &memStore{appts: map[string]model.Appointment{}}
}

func (m *memStore) CreateAppointment(ctx context.Context, appt *model.Appointment, buildEvents func(id string) []outbox.Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.appts {
		if existing.Status == model.StatusCancelled {
			continue
		}
		if appt.StartTime.Before(existing.EndTime()) && existing.StartTime.Before(appt.EndTime()) {
			return "", ErrSlotUnavailable
		}
	}
	m.seq++
	id := fmt.Sprintf("appt-%d", m.seq)
	stored := *appt
	stored.ID = id
	m.appts[id] = stored
	m.events = append(m.events, buildEvents(id)...)
	return id, nil
}

func (m *memStore) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return model.Appointment{}, m.getErr
	}
	appt, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return appt, nil
}

func (m *memStore) ListAppointments(ctx context.Context, limit int) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, appt := range m.appts {
		out = append(out, appt)
	}
	return out, nil
}

func (m *memStore) TransitionStatus(ctx context.Context, id string, to model.Status, buildEvents func(model.Appointment) []outbox.Event) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	if !model.CanTransition(appt.Status, to) {
		return model.Appointment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}
	if buildEvents != nil {
		m.events = append(m.events, buildEvents(appt)...)
	}
	appt.Status = to
	m.appts[id] = appt
	return appt, nil
}

func (m *memStore) FindUpcomingByPhone(ctx context.Context, phone string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best model.Appointment
	found := false
	for _, appt := range m.appts {
		if appt.CustomerPhone != phone {
			continue
		}
		if appt.Status != model.StatusPending && appt.Status != model.StatusConfirmed {
			continue
		}
		if !found || appt.StartTime.Before(best.StartTime) {
			best = appt
			found = true
		}
	}
	if !found {
		return model.Appointment{}, ErrNotFound
	}
	return best, nil
}

// ListActiveIntervals lets the same store back the availability calculator.
func (m *memStore) ListActiveIntervals(ctx context.Context, start, end time.Time) ([]availability.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []availability.Interval
	for _, appt := range m.appts {
		if appt.Status == model.StatusCancelled {
			continue
		}
		out = append(out, availability.Interval{Start: appt.StartTime, End: appt.EndTime()})
	}
	return out, nil
}

type fakeCalendar struct {
	busy      []availability.Interval
	listErr   error
	mu        sync.Mutex
	created   int
	deleted   int
	createErr error
}

func (f *fakeCalendar) ListBusyIntervals(ctx context.Context, start, end time.Time) ([]availability.Interval, error) {
	return f.busy, f.listErr
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, appt model.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return f.createErr
}

func (f *fakeCalendar) DeleteEvent(ctx context.Context, appt model.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted++
	return nil
}

func (f *fakeCalendar) deletions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleted
}

// 2026-03-02 is a Monday.
var monday9 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestService(store *memStore, cal *fakeCalendar) *Service {
	logger := slog.New(slog.DiscardHandler)
	calc := availability.NewCalculator(availability.DefaultBusinessHours(), cal, store, logger)
	calc.SetClock(func() time.Time { return monday9.Add(-24 * time.Hour) })
	return NewService(store, calc, cal, logger)
}

func request() *model.Appointment {
	return &model.Appointment{
		CustomerName:    "Mario Rossi",
		CustomerPhone:   "3331234567",
		Service:         model.ServiceHaircut,
		StartTime:       monday9,
		DurationMinutes: 30,
		PriceCents:      2000,
	}
}

func TestCreateBooksPendingAppointment(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeCalendar{})

	created, degraded, err := svc.Create(context.Background(), request())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if degraded {
		t.Error("unexpected degraded mode")
	}
	if created.Status != model.StatusPending {
		t.Errorf("status = %s, want pending", created.Status)
	}
	if created.ID == "" {
		t.Error("no id assigned")
	}

	if len(store.events) != 1 || store.events[0].EventType != outbox.EventAppointmentBooked {
		t.Fatalf("expected one booked event, got %+v", store.events)
	}
	evt, err := EventToAppointment(store.events[0].Payload)
	if err != nil {
		t.Fatalf("bad event payload: %v", err)
	}
	if evt.ID != created.ID {
		t.Errorf("event appointment_id = %q, want %q", evt.ID, created.ID)
	}
}

func TestCreateSurvivesReadBackFailure(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("replica lagging")
	svc := newTestService(store, &fakeCalendar{})

	created, _, err := svc.Create(context.Background(), request())
	if err != nil {
		t.Fatalf("Create failed after commit: %v", err)
	}
	if created.ID == "" {
		t.Error("no id on fallback appointment")
	}
	if created.Status != model.StatusPending {
		t.Errorf("status = %s, want pending", created.Status)
	}
	if len(store.events) != 1 {
		t.Fatalf("booked event not persisted: %+v", store.events)
	}
}

func TestCreateRejectsTakenSlot(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeCalendar{})

	if _, _, err := svc.Create(context.Background(), request()); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	if _, _, err := svc.Create(context.Background(), request()); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("second Create = %v, want ErrSlotUnavailable", err)
	}
}

func TestCreateRejectsBusyCalendarSlot(t *testing.T) {
	cal := &fakeCalendar{busy: []availability.Interval{{Start: monday9, End: monday9.Add(time.Hour)}}}
	svc := newTestService(newMemStore(), cal)

	if _, _, err := svc.Create(context.Background(), request()); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("Create = %v, want ErrSlotUnavailable", err)
	}
}

func TestCreateRejectsOffGridStart(t *testing.T) {
	svc := newTestService(newMemStore(), &fakeCalendar{})

	req := request()
	req.StartTime = monday9.Add(15 * time.Minute)
	if _, _, err := svc.Create(context.Background(), req); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("Create = %v, want ErrSlotUnavailable", err)
	}
}

func TestCreateRejectsClosedDay(t *testing.T) {
	svc := newTestService(newMemStore(), &fakeCalendar{})

	req := request()
	req.StartTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) // Sunday
	if _, _, err := svc.Create(context.Background(), req); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("Create = %v, want ErrSlotUnavailable", err)
	}
}

func TestCreateRejectsInvalidFields(t *testing.T) {
	svc := newTestService(newMemStore(), &fakeCalendar{})

	req := request()
	req.CustomerName = "M"
	if _, _, err := svc.Create(context.Background(), req); !errors.Is(err, ErrValidation) {
		t.Fatalf("Create = %v, want ErrValidation", err)
	}
}

func TestCreateDegradedWhenCalendarDown(t *testing.T) {
	cal := &fakeCalendar{listErr: errors.New("calendar down")}
	svc := newTestService(newMemStore(), cal)

	created, degraded, err := svc.Create(context.Background(), request())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !degraded {
		t.Error("expected degraded mode to be surfaced")
	}
	if created.Status != model.StatusPending {
		t.Errorf("status = %s", created.Status)
	}
}

func TestCreateDefaultsDuration(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeCalendar{})

	req := request()
	req.DurationMinutes = 0
	created, _, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.DurationMinutes != model.DefaultDurationMinutes {
		t.Errorf("duration = %d, want %d", created.DurationMinutes, model.DefaultDurationMinutes)
	}
}

func TestSetStatusEnforcesStateMachine(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeCalendar{})

	created, _, err := svc.Create(context.Background(), request())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Skipping confirmed is not allowed.
	if _, err := svc.SetStatus(context.Background(), created.ID, model.StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending->completed = %v, want ErrInvalidTransition", err)
	}

	if _, err := svc.SetStatus(context.Background(), created.ID, model.StatusConfirmed); err != nil {
		t.Fatalf("pending->confirmed failed: %v", err)
	}
	if _, err := svc.SetStatus(context.Background(), created.ID, model.StatusCompleted); err != nil {
		t.Fatalf("confirmed->completed failed: %v", err)
	}

	// Completed is terminal.
	if _, err := svc.SetStatus(context.Background(), created.ID, model.StatusCancelled); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed->cancelled = %v, want ErrInvalidTransition", err)
	}
}

func TestSetStatusNotFound(t *testing.T) {
	svc := newTestService(newMemStore(), &fakeCalendar{})

	if _, err := svc.SetStatus(context.Background(), "missing", model.StatusConfirmed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetStatus = %v, want ErrNotFound", err)
	}
}

func TestCancelEmitsCancellationEvent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeCalendar{})

	created, _, err := svc.Create(context.Background(), request())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	cancelled, err := svc.Cancel(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != model.StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	var sawCancellation bool
	for _, evt := range store.events {
		if evt.EventType == outbox.EventAppointmentCancelled {
			sawCancellation = true
		}
	}
	if !sawCancellation {
		t.Error("no cancellation event emitted")
	}

	// Cancelled is terminal.
	if _, err := svc.Cancel(context.Background(), created.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Cancel = %v, want ErrInvalidTransition", err)
	}
}

func TestCancelRemovesCalendarEvent(t *testing.T) {
	store := newMemStore()
	cal := &fakeCalendar{}
	svc := newTestService(store, cal)

	created, _, err := svc.Create(context.Background(), request())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), created.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	// Calendar removal runs detached from the request.
	deadline := time.Now().Add(2 * time.Second)
	for cal.deletions() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("calendar event was not removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCancelNextByPhone(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeCalendar{})

	created, _, err := svc.Create(context.Background(), request())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	cancelled, err := svc.CancelNextByPhone(context.Background(), created.CustomerPhone)
	if err != nil {
		t.Fatalf("CancelNextByPhone failed: %v", err)
	}
	if cancelled.ID != created.ID || cancelled.Status != model.StatusCancelled {
		t.Errorf("cancelled = %+v", cancelled)
	}

	if _, err := svc.CancelNextByPhone(context.Background(), "0000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("CancelNextByPhone(unknown) = %v, want ErrNotFound", err)
	}
}

func TestCancelledSlotBecomesBookableAgain(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeCalendar{})

	created, _, err := svc.Create(context.Background(), request())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), created.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	if _, _, err := svc.Create(context.Background(), request()); err != nil {
		t.Fatalf("rebooking a cancelled slot failed: %v", err)
	}
}
