package model

import (
	"fmt"
	"strings"
	"time"
)

type Service string

const (
	ServiceHaircut    Service = "haircut"
	ServiceBeardTrim  Service = "beard_trim"
	ServiceShave      Service = "shave"
	ServiceWashAndCut Service = "wash_and_cut"
	ServiceStyling    Service = "styling"
)

func ParseService(raw string) (Service, error) {
	s := Service(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case ServiceHaircut, ServiceBeardTrim, ServiceShave, ServiceWashAndCut, ServiceStyling:
		return s, nil
	}
	return "", fmt.Errorf("unknown service %q", raw)
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// CanTransition reports whether an appointment may move from one status to
// another. Completed and cancelled are terminal.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}

const (
	MinDurationMinutes = 15
	MaxDurationMinutes = 120

	DefaultDurationMinutes = 30
)

type Appointment struct {
	ID                 string
	CustomerName       string
	CustomerPhone      string
	CustomerEmail      string
	Service            Service
	StartTime          time.Time
	DurationMinutes    int
	PriceCents         int64
	Notes              string
	RequiresPrepayment bool
	ReminderSent       bool
	ReminderSentAt     *time.Time
	Status             Status
	CreatedAt          time.Time
}

func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Validate checks the field constraints of a candidate booking. It does not
// check availability; that is the workflow's job.
func (a *Appointment) Validate() error {
	if n := len(strings.TrimSpace(a.CustomerName)); n < 2 || n > 100 {
		return fmt.Errorf("customer_name must be 2-100 characters")
	}
	if n := len(strings.TrimSpace(a.CustomerPhone)); n < 10 || n > 20 {
		return fmt.Errorf("customer_phone must be 10-20 characters")
	}
	if _, err := ParseService(string(a.Service)); err != nil {
		return err
	}
	if a.StartTime.IsZero() {
		return fmt.Errorf("start_time is required")
	}
	if a.DurationMinutes < MinDurationMinutes || a.DurationMinutes > MaxDurationMinutes {
		return fmt.Errorf("duration_minutes must be between %d and %d", MinDurationMinutes, MaxDurationMinutes)
	}
	if a.PriceCents < 0 {
		return fmt.Errorf("price_cents must not be negative")
	}
	return nil
}
