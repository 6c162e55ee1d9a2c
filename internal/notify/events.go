package notify

import "github.com/metisconnect/metis-backend/internal/outbox"

// KindForEvent maps a broker event type to the customer message it triggers.
// Event types with no customer-facing message return ok=false.
func KindForEvent(eventType string) (Kind, bool) {
	switch eventType {
	case outbox.EventAppointmentBooked:
		return KindConfirmation, true
	case outbox.EventAppointmentCancelled:
		return KindCancellation, true
	case outbox.EventReminderDue:
		return KindReminder, true
	default:
		return "", false
	}
}
