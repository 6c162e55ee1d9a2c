package nlp

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFallbackClassify(t *testing.T) {
	cases := []struct {
		utterance string
		want      Intent
	}{
		{"Vorrei prenotare un taglio", IntentBookAppointment},
		{"Quando siete liberi domani?", IntentCheckAvailability},
		{"Devo cancellare il mio appuntamento", IntentCancelAppointment},
		{"Annulla la prenotazione", IntentCancelAppointment},
		{"Buongiorno!", IntentGreet},
		{"xyzzy", IntentFallback},
		{"", IntentFallback},
	}
	for _, tc := range cases {
		got := FallbackClassify(tc.utterance)
		if got.Intent != tc.want {
			t.Errorf("FallbackClassify(%q) = %s, want %s", tc.utterance, got.Intent, tc.want)
		}
	}
}

func TestFallbackExtractsServiceEntity(t *testing.T) {
	res := FallbackClassify("Vorrei prenotare la barba per sabato")
	if len(res.Entities) != 1 || res.Entities[0].Entity != "service" || res.Entities[0].Value != "beard_trim" {
		t.Fatalf("entities = %+v", res.Entities)
	}
}

func TestParseIntentClosedSet(t *testing.T) {
	if got := ParseIntent("Book_Appointment"); got != IntentBookAppointment {
		t.Errorf("ParseIntent = %s", got)
	}
	// Unknown classifier labels land in the explicit fallback, never pass
	// through as free-form strings.
	if got := ParseIntent("order_pizza"); got != IntentFallback {
		t.Errorf("ParseIntent(unknown) = %s, want fallback", got)
	}
}

func TestRasaClassifierParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/model/parse" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"text": "vorrei prenotare",
			"intent": {"name": "book_appointment", "confidence": 0.97},
			"entities": [{"entity": "service", "value": "haircut"}]
		}`))
	}))
	defer srv.Close()

	c := NewRasaClassifier(srv.URL, slog.New(slog.DiscardHandler))
	res, err := c.Classify(context.Background(), "vorrei prenotare", "sess-1")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if res.Intent != IntentBookAppointment || res.Confidence != 0.97 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(res.Entities) != 1 || res.Entities[0].Value != "haircut" {
		t.Errorf("entities = %+v", res.Entities)
	}
}

func TestRasaClassifierFallsBackWhenUnreachable(t *testing.T) {
	c := NewRasaClassifier("http://127.0.0.1:1", slog.New(slog.DiscardHandler))
	res, err := c.Classify(context.Background(), "devo cancellare", "sess-1")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if res.Intent != IntentCancelAppointment {
		t.Errorf("intent = %s, want cancel via fallback", res.Intent)
	}
}
