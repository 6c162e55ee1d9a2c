package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/metisconnect/metis-backend/internal/model"
	"github.com/metisconnect/metis-backend/internal/outbox"
	"github.com/metisconnect/metis-backend/internal/storage"
)

func TestKindForEvent(t *testing.T) {
	cases := []struct {
		eventType string
		want      Kind
		ok        bool
	}{
		{outbox.EventAppointmentBooked, KindConfirmation, true},
		{outbox.EventAppointmentCancelled, KindCancellation, true},
		{outbox.EventReminderDue, KindReminder, true},
		{outbox.EventPaymentCompleted, "", false},
		{"unknown.event.v1", "", false},
	}
	for _, tc := range cases {
		got, ok := KindForEvent(tc.eventType)
		if got != tc.want || ok != tc.ok {
			t.Errorf("KindForEvent(%q) = %q, %v", tc.eventType, got, ok)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"3331234567", "+393331234567"},
		{"333 123 4567", "+393331234567"},
		{"+39 333 123 4567", "+393331234567"},
		// Only bare 10-digit national numbers get the country code prepended.
		{"0039333123456", "+0039333123456"},
	}

	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if err != nil {
			t.Errorf("NormalizePhone(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := NormalizePhone("12345"); err == nil {
		t.Error("expected error for short number")
	}
}

func TestWhatsAppAddress(t *testing.T) {
	if got := WhatsAppAddress("+393331234567"); got != "whatsapp:+393331234567" {
		t.Fatalf("WhatsAppAddress = %q", got)
	}
}

func sampleAppointment() model.Appointment {
	return model.Appointment{
		ID:              "a1",
		CustomerName:    "Mario",
		CustomerPhone:   "3331234567",
		Service:         model.ServiceHaircut,
		StartTime:       time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		DurationMinutes: 30,
		PriceCents:      2050,
	}
}

func TestRenderConfirmation(t *testing.T) {
	body, err := Render(KindConfirmation, sampleAppointment())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	for _, want := range []string{"Prenotazione Confermata", "Mario", "02/03/2026", "09:30", "Taglio di Capelli", "€20,50"} {
		if !strings.Contains(body, want) {
			t.Errorf("confirmation body missing %q:\n%s", want, body)
		}
	}
}

func TestRenderDeterministic(t *testing.T) {
	appt := sampleAppointment()
	first, err := Render(KindReminder, appt)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	second, err := Render(KindReminder, appt)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if first != second {
		t.Fatal("rendering is not deterministic")
	}
}

func TestRenderUnknownKind(t *testing.T) {
	if _, err := Render(Kind("newsletter"), sampleAppointment()); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

type stubTransport struct {
	to   string
	body string
	err  error
}

func (s *stubTransport) Send(ctx context.Context, to, body string) error {
	s.to = to
	s.body = body
	return s.err
}

type stubRecorder struct {
	last storage.Notification
}

func (s *stubRecorder) Insert(ctx context.Context, n storage.Notification) (string, error) {
	s.last = n
	return "n1", nil
}

func TestDispatchDelivers(t *testing.T) {
	transport := &stubTransport{}
	recorder := &stubRecorder{}
	d := NewDispatcher(transport, recorder, slog.New(slog.DiscardHandler))

	if !d.Dispatch(context.Background(), sampleAppointment(), KindConfirmation) {
		t.Fatal("Dispatch reported failure")
	}
	if transport.to != "whatsapp:+393331234567" {
		t.Errorf("sent to %q", transport.to)
	}
	if !recorder.last.Delivered {
		t.Error("attempt not recorded as delivered")
	}
}

func TestDispatchReportsTransportFailure(t *testing.T) {
	transport := &stubTransport{err: errors.New("twilio down")}
	recorder := &stubRecorder{}
	d := NewDispatcher(transport, recorder, slog.New(slog.DiscardHandler))

	if d.Dispatch(context.Background(), sampleAppointment(), KindReminder) {
		t.Fatal("Dispatch reported success despite transport failure")
	}
	if recorder.last.Delivered {
		t.Error("failed attempt recorded as delivered")
	}
	if recorder.last.Error == "" {
		t.Error("failure reason not recorded")
	}
}
