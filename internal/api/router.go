package api

import "net/http"

// Routes mounts the public REST surface and webhooks on mux. Status updates
// are the only back-office mutation and sit behind the admin token.
type Routes struct {
	Appointments  *AppointmentHandler
	Payments      *PaymentHandler
	Auth          *AuthHandler
	Notifications *NotificationHandler
	TTS           *TTSHandler
	Whatsapp      http.Handler
	JWTSecret     string
}

func (rt Routes) Register(mux *http.ServeMux) {
	protected := RequireAuth(rt.JWTSecret)

	mux.HandleFunc("POST /api/v1/auth/login", rt.Auth.Login)

	mux.HandleFunc("POST /api/v1/appointments", rt.Appointments.Create)
	mux.HandleFunc("GET /api/v1/appointments", rt.Appointments.List)
	mux.HandleFunc("GET /api/v1/appointments/availability", rt.Appointments.Availability)
	mux.HandleFunc("GET /api/v1/appointments/{id}", rt.Appointments.Get)
	mux.HandleFunc("PUT /api/v1/appointments/{id}/status", protected(rt.Appointments.UpdateStatus))
	mux.HandleFunc("DELETE /api/v1/appointments/{id}", rt.Appointments.Cancel)

	mux.HandleFunc("POST /api/v1/appointments/{id}/payment", rt.Payments.CreateSession)
	mux.HandleFunc("GET /api/v1/appointments/{id}/payment", rt.Payments.GetStatus)
	mux.HandleFunc("POST /api/v1/payments/webhook", rt.Payments.Webhook)
	mux.HandleFunc("POST /api/v1/payments/refund", protected(rt.Payments.Refund))

	if rt.Notifications != nil {
		mux.HandleFunc("GET /api/v1/appointments/{id}/notifications", protected(rt.Notifications.ListByAppointment))
	}

	if rt.TTS != nil {
		mux.HandleFunc("POST /api/v1/tts/synthesize", rt.TTS.Synthesize)
		mux.HandleFunc("GET /api/v1/tts/status", rt.TTS.Status)
	}
	if rt.Whatsapp != nil {
		mux.Handle("POST /webhooks/whatsapp", rt.Whatsapp)
	}
}
