package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/metisconnect/metis-backend/internal/availability"
	"github.com/metisconnect/metis-backend/internal/booking"
	"github.com/metisconnect/metis-backend/internal/model"
	"github.com/metisconnect/metis-backend/internal/nlp"
	"github.com/metisconnect/metis-backend/internal/notify"
)

// Booker is the slice of the booking service the chatbot needs.
type Booker interface {
	Create(ctx context.Context, appt *model.Appointment) (model.Appointment, bool, error)
	Slots(ctx context.Context, start, end time.Time, duration time.Duration) ([]availability.Slot, bool, error)
	CancelNextByPhone(ctx context.Context, phone string) (model.Appointment, error)
}

// Walk-in price list for bookings made over chat, in euro cents.
var servicePriceCents = map[model.Service]int64{
	model.ServiceHaircut:    1500,
	model.ServiceBeardTrim:  1000,
	model.ServiceShave:      1200,
	model.ServiceWashAndCut: 2200,
	model.ServiceStyling:    1800,
}

const (
	replyGreeting = "Ciao! Sono l'assistente virtuale del barbiere. " +
		"Posso aiutarti a prenotare un appuntamento. " +
		"Dimmi che servizio ti serve e quando vorresti venire."
	replyFallback = "Non sono sicuro di aver capito. Puoi aiutarmi con la prenotazione? " +
		"Scrivi ad esempio: \"Vorrei prenotare un taglio\"."
	replyError = "Mi dispiace, si è verificato un errore. " +
		"Riprova tra qualche minuto o contatta direttamente il barbiere."
	replyAskService = "Che servizio ti serve? Offriamo: Taglio di Capelli, Regolazione Barba, " +
		"Rasatura, Taglio e Shampoo, Styling."
	replyAskTime = "Per quando vorresti prenotare? Scrivimi data e ora, ad esempio: 05/03 alle 10:00."
	replyBadTime = "Non ho capito la data. Scrivimi giorno e ora così: 05/03 alle 10:00."
	replyNoUpcoming = "Non ho trovato appuntamenti a tuo nome da cancellare. " +
		"Se pensi sia un errore contatta direttamente il barbiere."
)

// Engine drives a WhatsApp conversation: it classifies the message, advances
// the per-customer draft, and answers in Italian. Replies go back over the
// same channel the message arrived on.
type Engine struct {
	classifier nlp.Classifier
	sessions   *SessionStore
	booking    Booker
	transport  notify.Transport
	loc        *time.Location
	now        func() time.Time
	logger     *slog.Logger
}

func NewEngine(classifier nlp.Classifier, sessions *SessionStore, booker Booker, transport notify.Transport, loc *time.Location, logger *slog.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		classifier: classifier,
		sessions:   sessions,
		booking:    booker,
		transport:  transport,
		loc:        loc,
		now:        time.Now,
		logger:     logger,
	}
}

// HandleMessage processes one inbound message and sends the reply. Errors are
// answered with an apology; they never bubble up to the webhook response,
// which must stay 200 so Twilio does not retry the message.
func (e *Engine) HandleMessage(ctx context.Context, from, body string) {
	reply, to, err := e.respond(ctx, from, body)
	if err != nil {
		e.logger.Error("conversation failed", "from", from, "err", err)
		reply = replyError
	}
	if to == "" {
		to = from
	}
	if err := e.transport.Send(ctx, to, reply); err != nil {
		e.logger.Error("whatsapp reply failed", "to", to, "err", err)
	}
}

func (e *Engine) respond(ctx context.Context, from, body string) (reply, to string, err error) {
	raw := strings.TrimPrefix(from, "whatsapp:")
	phone, err := notify.NormalizePhone(raw)
	if err != nil {
		return "", "", fmt.Errorf("sender number: %w", err)
	}
	to = notify.WhatsAppAddress(phone)

	res, err := e.classifier.Classify(ctx, body, phone)
	if err != nil {
		return "", to, err
	}

	draft, haveDraft, err := e.sessions.Get(ctx, phone)
	if err != nil {
		return "", to, err
	}

	// A draft in progress takes precedence over a fresh intent: the customer
	// is answering our last question.
	if haveDraft && res.Intent != nlp.IntentCancelAppointment {
		reply, err = e.advanceDraft(ctx, phone, draft, res, body)
		return reply, to, err
	}

	switch res.Intent {
	case nlp.IntentGreet:
		return replyGreeting, to, nil
	case nlp.IntentBookAppointment:
		reply, err = e.startBooking(ctx, phone, res, body)
		return reply, to, err
	case nlp.IntentCheckAvailability:
		reply, err = e.availabilityReply(ctx, body)
		return reply, to, err
	case nlp.IntentCancelAppointment:
		reply, err = e.cancelReply(ctx, phone)
		return reply, to, err
	case nlp.IntentFallback:
		return replyFallback, to, nil
	default:
		return replyFallback, to, nil
	}
}

func (e *Engine) startBooking(ctx context.Context, phone string, res nlp.Result, body string) (string, error) {
	draft := Draft{Stage: StageAwaitingService}
	if svc, ok := serviceFromResult(res); ok {
		draft.Service = string(svc)
		draft.Stage = StageAwaitingTime
	}

	// The first message may already carry everything we need.
	if draft.Service != "" {
		if when, ok := parseWhen(body, e.now().In(e.loc), e.loc); ok {
			return e.book(ctx, phone, draft, when)
		}
	}

	if err := e.sessions.Put(ctx, phone, draft); err != nil {
		return "", err
	}
	if draft.Stage == StageAwaitingService {
		return replyAskService, nil
	}
	return replyAskTime, nil
}

func (e *Engine) advanceDraft(ctx context.Context, phone string, draft Draft, res nlp.Result, body string) (string, error) {
	if draft.Stage == StageAwaitingService {
		svc, ok := serviceFromResult(res)
		if !ok {
			return replyAskService, nil
		}
		draft.Service = string(svc)
		draft.Stage = StageAwaitingTime
		if when, ok := parseWhen(body, e.now().In(e.loc), e.loc); ok {
			return e.book(ctx, phone, draft, when)
		}
		if err := e.sessions.Put(ctx, phone, draft); err != nil {
			return "", err
		}
		return replyAskTime, nil
	}

	when, ok := parseWhen(body, e.now().In(e.loc), e.loc)
	if !ok {
		return replyBadTime, nil
	}
	return e.book(ctx, phone, draft, when)
}

func (e *Engine) book(ctx context.Context, phone string, draft Draft, when time.Time) (string, error) {
	service, err := model.ParseService(draft.Service)
	if err != nil {
		return "", err
	}
	appt := &model.Appointment{
		CustomerName:  "Cliente WhatsApp",
		CustomerPhone: phone,
		Service:       service,
		StartTime:     when,
		PriceCents:    servicePriceCents[service],
	}

	created, _, err := e.booking.Create(ctx, appt)
	if errors.Is(err, booking.ErrSlotUnavailable) {
		alt, altErr := e.availabilityForDay(ctx, when)
		if altErr != nil {
			e.logger.Warn("alternative slots lookup failed", "err", altErr)
		}
		msg := fmt.Sprintf("Mi dispiace, il %s alle %s non è disponibile.",
			when.Format("02/01"), when.Format("15:04"))
		if alt != "" {
			msg += " Orari liberi quel giorno: " + alt + "."
		}
		return msg, nil
	}
	if errors.Is(err, booking.ErrValidation) {
		return replyBadTime, nil
	}
	if err != nil {
		return "", err
	}

	if err := e.sessions.Delete(ctx, phone); err != nil {
		e.logger.Warn("draft cleanup failed", "phone", phone, "err", err)
	}
	return fmt.Sprintf("Perfetto! Ho prenotato %s per il %s alle %s. Riceverai un messaggio di conferma. A presto! ✂️",
		notify.ServiceLabel(created.Service), created.StartTime.Format("02/01/2006"), created.StartTime.Format("15:04")), nil
}

func (e *Engine) availabilityReply(ctx context.Context, body string) (string, error) {
	day := e.now().In(e.loc).AddDate(0, 0, 1)
	if when, ok := parseWhen(body, e.now().In(e.loc), e.loc); ok {
		day = when
	}
	times, err := e.availabilityForDay(ctx, day)
	if err != nil {
		return "", err
	}
	if times == "" {
		return fmt.Sprintf("Il %s siamo al completo o chiusi. Vuoi provare un altro giorno?", day.Format("02/01")), nil
	}
	return fmt.Sprintf("Il %s abbiamo questi orari liberi: %s. Scrivimi quale preferisci e il servizio che ti serve!",
		day.Format("02/01"), times), nil
}

// availabilityForDay lists up to six free start times for the day, comma
// separated, or "" when the shop is closed or full.
func (e *Engine) availabilityForDay(ctx context.Context, day time.Time) (string, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, e.loc)
	end := start.AddDate(0, 0, 1)
	slots, _, err := e.booking.Slots(ctx, start, end, time.Duration(model.DefaultDurationMinutes)*time.Minute)
	if err != nil {
		return "", err
	}
	var times []string
	for _, slot := range slots {
		if slot.Available {
			times = append(times, slot.Start.In(e.loc).Format("15:04"))
		}
		if len(times) == 6 {
			break
		}
	}
	return strings.Join(times, ", "), nil
}

func (e *Engine) cancelReply(ctx context.Context, phone string) (string, error) {
	if err := e.sessions.Delete(ctx, phone); err != nil {
		e.logger.Warn("draft cleanup failed", "phone", phone, "err", err)
	}
	cancelled, err := e.booking.CancelNextByPhone(ctx, phone)
	if errors.Is(err, booking.ErrNotFound) {
		return replyNoUpcoming, nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Ho cancellato il tuo appuntamento del %s alle %s. Per una nuova prenotazione scrivici quando vuoi!",
		cancelled.StartTime.Format("02/01/2006"), cancelled.StartTime.Format("15:04")), nil
}

func serviceFromResult(res nlp.Result) (model.Service, bool) {
	for _, ent := range res.Entities {
		if ent.Entity != "service" {
			continue
		}
		if svc, err := model.ParseService(ent.Value); err == nil {
			return svc, true
		}
	}
	return "", false
}

// "05/03 alle 10:00", "5/3/2026 10.30", "il 12/03 14:00"
var whenPattern = regexp.MustCompile(`(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?(?:\s+(?:alle\s+)?(\d{1,2})[:.](\d{2}))`)

// parseWhen extracts a date and time from free text. Years default to the
// next occurrence of the day/month after now.
func parseWhen(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	m := whenPattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}

	year := now.Year()
	if m[3] != "" {
		y, _ := strconv.Atoi(m[3])
		if y < 100 {
			y += 2000
		}
		year = y
	}
	when := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	if m[3] == "" && when.Before(now) {
		when = when.AddDate(1, 0, 0)
	}
	if when.Day() != day {
		// Date normalisation moved it, so the input named a day that does not
		// exist in that month.
		return time.Time{}, false
	}
	return when, true
}
