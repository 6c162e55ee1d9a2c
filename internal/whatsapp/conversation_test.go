package whatsapp

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/metisconnect/metis-backend/internal/availability"
	"github.com/metisconnect/metis-backend/internal/booking"
	"github.com/metisconnect/metis-backend/internal/model"
	"github.com/metisconnect/metis-backend/internal/nlp"
)

type keywordClassifier struct{ err error }

func (c keywordClassifier) Classify(ctx context.Context, utterance, sessionID string) (nlp.Result, error) {
	if c.err != nil {
		return nlp.Result{}, c.err
	}
	return nlp.FallbackClassify(utterance), nil
}

type stubBooker struct {
	mu        sync.Mutex
	created   []model.Appointment
	createErr error
	slots     []availability.Slot
	cancelled model.Appointment
	cancelErr error
}

func (b *stubBooker) Create(ctx context.Context, appt *model.Appointment) (model.Appointment, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return model.Appointment{}, false, b.createErr
	}
	stored := *appt
	stored.ID = "appt-1"
	stored.Status = model.StatusPending
	b.created = append(b.created, stored)
	return stored, false, nil
}

func (b *stubBooker) Slots(ctx context.Context, start, end time.Time, duration time.Duration) ([]availability.Slot, bool, error) {
	return b.slots, false, nil
}

func (b *stubBooker) CancelNextByPhone(ctx context.Context, phone string) (model.Appointment, error) {
	if b.cancelErr != nil {
		return model.Appointment{}, b.cancelErr
	}
	return b.cancelled, nil
}

type captureTransport struct {
	mu     sync.Mutex
	to     []string
	bodies []string
}

func (c *captureTransport) Send(ctx context.Context, to, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.to = append(c.to, to)
	c.bodies = append(c.bodies, body)
	return nil
}

func (c *captureTransport) last(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) == 0 {
		t.Fatal("no reply sent")
	}
	return c.bodies[len(c.bodies)-1]
}

// 2026-03-01 is a Sunday; bookings in the tests land on the following week.
var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, booker *stubBooker, classifier nlp.Classifier) (*Engine, *captureTransport) {
	t.Helper()
	sessions, _ := newTestSessions(t)
	transport := &captureTransport{}
	e := NewEngine(classifier, sessions, booker, transport, time.UTC, slog.New(slog.DiscardHandler))
	e.now = func() time.Time { return testNow }
	return e, transport
}

const sender = "whatsapp:+393331234567"

func TestGreetingReply(t *testing.T) {
	e, transport := newTestEngine(t, &stubBooker{}, keywordClassifier{})

	e.HandleMessage(context.Background(), sender, "Buongiorno!")

	if got := transport.last(t); !strings.Contains(got, "assistente virtuale") {
		t.Errorf("reply = %q", got)
	}
	if transport.to[0] != "whatsapp:+393331234567" {
		t.Errorf("reply sent to %q", transport.to[0])
	}
}

func TestBookingInOneMessage(t *testing.T) {
	booker := &stubBooker{}
	e, transport := newTestEngine(t, booker, keywordClassifier{})

	e.HandleMessage(context.Background(), sender, "Vorrei prenotare un taglio il 05/03 alle 10:00")

	if len(booker.created) != 1 {
		t.Fatalf("created = %+v", booker.created)
	}
	appt := booker.created[0]
	if appt.Service != model.ServiceHaircut {
		t.Errorf("service = %s", appt.Service)
	}
	if appt.CustomerPhone != "+393331234567" {
		t.Errorf("phone = %s", appt.CustomerPhone)
	}
	want := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	if !appt.StartTime.Equal(want) {
		t.Errorf("start = %s, want %s", appt.StartTime, want)
	}
	if appt.PriceCents != servicePriceCents[model.ServiceHaircut] {
		t.Errorf("price = %d", appt.PriceCents)
	}
	if got := transport.last(t); !strings.Contains(got, "Ho prenotato") || !strings.Contains(got, "05/03/2026") {
		t.Errorf("reply = %q", got)
	}
}

func TestBookingAcrossMessages(t *testing.T) {
	booker := &stubBooker{}
	e, transport := newTestEngine(t, booker, keywordClassifier{})
	ctx := context.Background()

	e.HandleMessage(ctx, sender, "Vorrei prenotare la barba")
	if got := transport.last(t); !strings.Contains(got, "quando") && !strings.Contains(got, "data e ora") {
		t.Errorf("expected a time prompt, got %q", got)
	}

	e.HandleMessage(ctx, sender, "02/03 alle 09:00")
	if len(booker.created) != 1 {
		t.Fatalf("created = %+v", booker.created)
	}
	if booker.created[0].Service != model.ServiceBeardTrim {
		t.Errorf("service = %s", booker.created[0].Service)
	}

	// The draft is consumed; the same message again starts from scratch.
	e.HandleMessage(ctx, sender, "02/03 alle 09:00")
	if len(booker.created) != 1 {
		t.Errorf("draft survived booking: %+v", booker.created)
	}
}

func TestBookingAsksForService(t *testing.T) {
	booker := &stubBooker{}
	e, transport := newTestEngine(t, booker, keywordClassifier{})
	ctx := context.Background()

	e.HandleMessage(ctx, sender, "Vorrei fissare un appuntamento")
	if got := transport.last(t); !strings.Contains(got, "Che servizio") {
		t.Errorf("expected service prompt, got %q", got)
	}

	e.HandleMessage(ctx, sender, "La rasatura, il 06/03 alle 11:00")
	if len(booker.created) != 1 || booker.created[0].Service != model.ServiceShave {
		t.Fatalf("created = %+v", booker.created)
	}
}

func TestBookingSlotTakenSuggestsAlternatives(t *testing.T) {
	slotStart := time.Date(2026, 3, 5, 15, 0, 0, 0, time.UTC)
	booker := &stubBooker{
		createErr: booking.ErrSlotUnavailable,
		slots: []availability.Slot{
			{Start: slotStart, End: slotStart.Add(30 * time.Minute), Available: true},
		},
	}
	e, transport := newTestEngine(t, booker, keywordClassifier{})

	e.HandleMessage(context.Background(), sender, "Vorrei prenotare un taglio il 05/03 alle 10:00")

	got := transport.last(t)
	if !strings.Contains(got, "non è disponibile") {
		t.Errorf("reply = %q", got)
	}
	if !strings.Contains(got, "15:00") {
		t.Errorf("expected alternative times in %q", got)
	}
}

func TestUnparsableTimeReprompts(t *testing.T) {
	booker := &stubBooker{}
	e, transport := newTestEngine(t, booker, keywordClassifier{})
	ctx := context.Background()

	e.HandleMessage(ctx, sender, "Vorrei prenotare un taglio")
	e.HandleMessage(ctx, sender, "boh più tardi")

	if got := transport.last(t); !strings.Contains(got, "Non ho capito la data") {
		t.Errorf("reply = %q", got)
	}
	if len(booker.created) != 0 {
		t.Errorf("created = %+v", booker.created)
	}
}

func TestAvailabilityReply(t *testing.T) {
	slotStart := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	booker := &stubBooker{slots: []availability.Slot{
		{Start: slotStart, End: slotStart.Add(30 * time.Minute), Available: true},
		{Start: slotStart.Add(30 * time.Minute), End: slotStart.Add(time.Hour), Available: false},
		{Start: slotStart.Add(time.Hour), End: slotStart.Add(90 * time.Minute), Available: true},
	}}
	e, transport := newTestEngine(t, booker, keywordClassifier{})

	e.HandleMessage(context.Background(), sender, "Quando siete liberi?")

	got := transport.last(t)
	if !strings.Contains(got, "09:00") || !strings.Contains(got, "10:00") {
		t.Errorf("reply = %q", got)
	}
	if strings.Contains(got, "09:30") {
		t.Errorf("busy slot offered: %q", got)
	}
}

func TestCancelUpcomingAppointment(t *testing.T) {
	booker := &stubBooker{cancelled: model.Appointment{
		ID:        "appt-1",
		StartTime: time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
		Status:    model.StatusCancelled,
	}}
	e, transport := newTestEngine(t, booker, keywordClassifier{})

	e.HandleMessage(context.Background(), sender, "Devo annullare il mio appuntamento")

	if got := transport.last(t); !strings.Contains(got, "Ho cancellato") || !strings.Contains(got, "05/03/2026") {
		t.Errorf("reply = %q", got)
	}
}

func TestCancelWithoutAppointment(t *testing.T) {
	booker := &stubBooker{cancelErr: booking.ErrNotFound}
	e, transport := newTestEngine(t, booker, keywordClassifier{})

	e.HandleMessage(context.Background(), sender, "Cancella la prenotazione")

	if got := transport.last(t); !strings.Contains(got, "Non ho trovato appuntamenti") {
		t.Errorf("reply = %q", got)
	}
}

func TestFallbackReply(t *testing.T) {
	e, transport := newTestEngine(t, &stubBooker{}, keywordClassifier{})

	e.HandleMessage(context.Background(), sender, "xyzzy")

	if got := transport.last(t); !strings.Contains(got, "Non sono sicuro di aver capito") {
		t.Errorf("reply = %q", got)
	}
}

func TestProcessingErrorSendsApology(t *testing.T) {
	e, transport := newTestEngine(t, &stubBooker{}, keywordClassifier{err: context.DeadlineExceeded})

	e.HandleMessage(context.Background(), sender, "Vorrei prenotare")

	if got := transport.last(t); !strings.Contains(got, "si è verificato un errore") {
		t.Errorf("reply = %q", got)
	}
}

func TestParseWhen(t *testing.T) {
	now := testNow
	cases := []struct {
		text string
		want time.Time
		ok   bool
	}{
		{"05/03 alle 10:00", time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC), true},
		{"il 5/3 10.30 va bene", time.Date(2026, 3, 5, 10, 30, 0, 0, time.UTC), true},
		{"12/03/2027 14:00", time.Date(2027, 3, 12, 14, 0, 0, 0, time.UTC), true},
		// A day/month already past rolls to next year.
		{"10/01 alle 09:00", time.Date(2027, 1, 10, 9, 0, 0, 0, time.UTC), true},
		{"31/02 alle 10:00", time.Time{}, false},
		{"domani", time.Time{}, false},
		{"10:00", time.Time{}, false},
	}
	for _, tc := range cases {
		got, ok := parseWhen(tc.text, now, time.UTC)
		if ok != tc.ok {
			t.Errorf("parseWhen(%q) ok = %v, want %v", tc.text, ok, tc.ok)
			continue
		}
		if ok && !got.Equal(tc.want) {
			t.Errorf("parseWhen(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestWebhookHandler(t *testing.T) {
	const token = "auth-token"
	const hook = "https://barber.example.com/webhooks/whatsapp"

	booker := &stubBooker{}
	e, transport := newTestEngine(t, booker, keywordClassifier{})
	h := NewHandler(e, token, hook, slog.New(slog.DiscardHandler))

	form := url.Values{
		"From": {sender},
		"Body": {"Buongiorno!"},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", computeSignature(token, hook, form))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(transport.bodies) != 1 {
		t.Fatalf("replies = %v", transport.bodies)
	}
}

func TestWebhookHandlerRejectsBadSignature(t *testing.T) {
	e, transport := newTestEngine(t, &stubBooker{}, keywordClassifier{})
	h := NewHandler(e, "auth-token", "https://barber.example.com/webhooks/whatsapp", slog.New(slog.DiscardHandler))

	form := url.Values{"From": {sender}, "Body": {"ciao"}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "bogus")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(transport.bodies) != 0 {
		t.Errorf("message processed despite bad signature")
	}
}

func TestWebhookHandlerRequiresFromAndBody(t *testing.T) {
	e, _ := newTestEngine(t, &stubBooker{}, keywordClassifier{})
	h := NewHandler(e, "", "", slog.New(slog.DiscardHandler))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader("From=only"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
