package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/metisconnect/metis-backend/internal/model"
)

// Kind selects which customer message to render.
type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindReminder     Kind = "reminder"
	KindCancellation Kind = "cancellation"
)

const confirmationText = `✅ *Prenotazione Confermata!*

Ciao {{.Name}}! 👋
La tua prenotazione è stata registrata:

📅 Data: {{.Date}}
🕐 Orario: {{.Time}}
💈 Servizio: {{.Service}}
💰 Prezzo: {{.Price}}

Ti aspettiamo!`

const reminderText = `🪒 *Promemoria Appuntamento*

Ciao {{.Name}}!
Ti ricordiamo il tuo appuntamento:

📅 Data: {{.Date}}
🕐 Orario: {{.Time}}
💈 Servizio: {{.Service}}

A presto!`

const cancellationText = `❌ *Appuntamento Cancellato*

Ciao {{.Name}},
il tuo appuntamento del {{.Date}} alle {{.Time}} è stato cancellato.

Per una nuova prenotazione scrivici quando vuoi!`

var messageTemplates = map[Kind]*template.Template{
	KindConfirmation: template.Must(template.New(string(KindConfirmation)).Option("missingkey=error").Parse(confirmationText)),
	KindReminder:     template.Must(template.New(string(KindReminder)).Option("missingkey=error").Parse(reminderText)),
	KindCancellation: template.Must(template.New(string(KindCancellation)).Option("missingkey=error").Parse(cancellationText)),
}

var serviceLabels = map[model.Service]string{
	model.ServiceHaircut:    "Taglio di Capelli",
	model.ServiceBeardTrim:  "Regolazione Barba",
	model.ServiceShave:      "Rasatura",
	model.ServiceWashAndCut: "Taglio e Shampoo",
	model.ServiceStyling:    "Styling",
}

// ServiceLabel returns the customer-facing Italian name of a service.
func ServiceLabel(s model.Service) string {
	if label, ok := serviceLabels[s]; ok {
		return label
	}
	return string(s)
}

// Render produces the message body for an appointment. Rendering is
// deterministic for a given appointment and kind.
func Render(kind Kind, appt model.Appointment) (string, error) {
	tmpl, ok := messageTemplates[kind]
	if !ok {
		return "", fmt.Errorf("unknown message kind %q", kind)
	}
	data := map[string]string{
		"Name":    appt.CustomerName,
		"Date":    appt.StartTime.Format("02/01/2006"),
		"Time":    appt.StartTime.Format("15:04"),
		"Service": ServiceLabel(appt.Service),
		"Price":   fmt.Sprintf("€%d,%02d", appt.PriceCents/100, appt.PriceCents%100),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", kind, err)
	}
	return buf.String(), nil
}
