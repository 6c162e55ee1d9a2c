package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/metisconnect/metis-backend/internal/availability"
	"github.com/metisconnect/metis-backend/internal/model"
	"github.com/metisconnect/metis-backend/internal/notify"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Client talks to one Google Calendar with service-account credentials. It
// serves two capabilities: listing busy intervals for availability and
// mirroring committed bookings as events.
type Client struct {
	svc        *gcal.Service
	calendarID string
	logger     *slog.Logger
}

type Config struct {
	// CredentialsJSON is the service-account key. Empty means the calendar
	// integration is off and availability runs in degraded mode.
	CredentialsJSON string
	CalendarID      string
}

func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.CredentialsJSON == "" {
		return nil, fmt.Errorf("google calendar credentials not configured")
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}

	creds, err := google.CredentialsFromJSON(ctx, []byte(cfg.CredentialsJSON), gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	svc, err := gcal.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &Client{svc: svc, calendarID: cfg.CalendarID, logger: logger}, nil
}

// ListBusyIntervals queries free/busy for [start, end) in one call.
func (c *Client) ListBusyIntervals(ctx context.Context, start, end time.Time) ([]availability.Interval, error) {
	resp, err := c.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: start.Format(time.RFC3339),
		TimeMax: end.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: c.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query: %w", err)
	}

	cal, ok := resp.Calendars[c.calendarID]
	if !ok {
		return nil, nil
	}
	intervals := make([]availability.Interval, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		busyStart, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			c.logger.Warn("skipping busy period with bad start", "value", period.Start)
			continue
		}
		busyEnd, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			c.logger.Warn("skipping busy period with bad end", "value", period.End)
			continue
		}
		intervals = append(intervals, availability.Interval{Start: busyStart, End: busyEnd})
	}
	return intervals, nil
}

// CreateEvent mirrors a booking onto the calendar. The event id is derived
// from the appointment id so cancellation can remove it without storing a
// mapping.
func (c *Client) CreateEvent(ctx context.Context, appt model.Appointment) error {
	event := &gcal.Event{
		Id:          eventID(appt.ID),
		Summary:     fmt.Sprintf("%s - %s", notify.ServiceLabel(appt.Service), appt.CustomerName),
		Description: fmt.Sprintf("Telefono: %s\n%s", appt.CustomerPhone, appt.Notes),
		Start:       &gcal.EventDateTime{DateTime: appt.StartTime.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: appt.EndTime().Format(time.RFC3339)},
	}
	if _, err := c.svc.Events.Insert(c.calendarID, event).Context(ctx).Do(); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// DeleteEvent removes the mirrored event for a cancelled booking. An event
// that is already gone is not an error.
func (c *Client) DeleteEvent(ctx context.Context, appt model.Appointment) error {
	err := c.svc.Events.Delete(c.calendarID, eventID(appt.ID)).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == 404 || apiErr.Code == 410) {
			return nil
		}
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// eventID maps an appointment id onto Google's event id alphabet
// (base32hex): UUID hex digits qualify once the hyphens are stripped.
func eventID(appointmentID string) string {
	return "appt" + strings.ReplaceAll(strings.ToLower(appointmentID), "-", "")
}
