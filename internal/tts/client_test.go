package tts

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func wavBytes() []byte {
	b := make([]byte, 64)
	copy(b, []byte("RIFF"))
	copy(b[8:], []byte("WAVEfmt "))
	return b
}

func TestSynthesizeReturnsAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("text") == "" {
			t.Error("text query parameter missing")
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavBytes())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, slog.New(slog.DiscardHandler))
	audio, err := c.Synthesize(context.Background(), "Buongiorno, il tuo appuntamento è confermato")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if len(audio) == 0 {
		t.Fatal("no audio returned")
	}
}

func TestSynthesizeRejectsMalformedAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>error</html>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, slog.New(slog.DiscardHandler))
	if _, err := c.Synthesize(context.Background(), "ciao"); err == nil {
		t.Fatal("expected error for malformed audio")
	}
}

func TestSynthesizeFailsExplicitlyWhenUnconfigured(t *testing.T) {
	c := NewClient("", slog.New(slog.DiscardHandler))
	if _, err := c.Synthesize(context.Background(), "ciao"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Synthesize = %v, want ErrNotConfigured", err)
	}
}

func TestSynthesizeRequiresText(t *testing.T) {
	c := NewClient("http://localhost:5002", slog.New(slog.DiscardHandler))
	if _, err := c.Synthesize(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty text")
	}
}
