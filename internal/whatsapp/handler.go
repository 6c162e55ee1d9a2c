package whatsapp

import (
	"log/slog"
	"net/http"
)

// Handler receives Twilio's inbound-message webhook. Twilio POSTs
// form-encoded fields and signs them against the public webhook URL.
type Handler struct {
	engine     *Engine
	authToken  string
	webhookURL string
	logger     *slog.Logger
}

func NewHandler(engine *Engine, authToken, webhookURL string, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, authToken: authToken, webhookURL: webhookURL, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	// Signature validation is skipped only when no auth token is configured
	// (local development).
	if h.authToken != "" {
		sig := r.Header.Get("X-Twilio-Signature")
		if !ValidSignature(h.authToken, h.webhookURL, r.PostForm, sig) {
			h.logger.Warn("rejected webhook with bad signature", "remote", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	if from == "" || body == "" {
		http.Error(w, "From and Body required", http.StatusBadRequest)
		return
	}

	h.engine.HandleMessage(r.Context(), from, body)
	w.WriteHeader(http.StatusOK)
}
