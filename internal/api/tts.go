package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/metisconnect/metis-backend/internal/tts"
)

// SpeechSynthesizer renders text to audio. Implemented by the Coqui client.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Configured() bool
	Healthy(ctx context.Context) error
}

type TTSHandler struct {
	synth  SpeechSynthesizer
	logger *slog.Logger
}

func NewTTSHandler(synth SpeechSynthesizer, logger *slog.Logger) *TTSHandler {
	return &TTSHandler{synth: synth, logger: logger}
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

type ttsStatusResponse struct {
	Configured bool   `json:"configured"`
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error,omitempty"`
}

func (h *TTSHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text required", http.StatusBadRequest)
		return
	}

	audio, err := h.synth.Synthesize(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, tts.ErrNotConfigured) {
			http.Error(w, "speech synthesis not configured", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("speech synthesis failed", "err", err)
		http.Error(w, "speech synthesis failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func (h *TTSHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := ttsStatusResponse{Configured: h.synth.Configured()}
	if resp.Configured {
		if err := h.synth.Healthy(r.Context()); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Healthy = true
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
