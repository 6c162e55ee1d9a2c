package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Intent is the closed set of conversational intents the chatbot handles.
// Anything the classifier reports outside this set maps to IntentFallback.
type Intent string

const (
	IntentBookAppointment   Intent = "book_appointment"
	IntentCheckAvailability Intent = "check_availability"
	IntentCancelAppointment Intent = "cancel_appointment"
	IntentGreet             Intent = "greet"
	IntentFallback          Intent = "fallback"
)

// ParseIntent normalises a classifier-reported intent name onto the closed
// set.
func ParseIntent(name string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(name))) {
	case IntentBookAppointment:
		return IntentBookAppointment
	case IntentCheckAvailability:
		return IntentCheckAvailability
	case IntentCancelAppointment:
		return IntentCancelAppointment
	case IntentGreet:
		return IntentGreet
	default:
		return IntentFallback
	}
}

type Entity struct {
	Entity string `json:"entity"`
	Value  string `json:"value"`
}

// Result is one classification of an utterance.
type Result struct {
	Text       string
	Intent     Intent
	Confidence float64
	Entities   []Entity
}

// Classifier resolves an utterance to an intent. The primary implementation
// asks a Rasa server and falls back to keyword matching when it is
// unreachable.
type Classifier interface {
	Classify(ctx context.Context, utterance, sessionID string) (Result, error)
}

// RasaClassifier calls Rasa's HTTP model-parse endpoint.
type RasaClassifier struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewRasaClassifier(baseURL string, logger *slog.Logger) *RasaClassifier {
	return &RasaClassifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

type rasaParseResponse struct {
	Text   string `json:"text"`
	Intent struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
	} `json:"intent"`
	Entities []Entity `json:"entities"`
}

// Classify asks Rasa for the intent and entities of the utterance. When the
// server cannot be reached or answers garbage, the keyword fallback takes
// over so the chatbot keeps working without the NLP service.
func (c *RasaClassifier) Classify(ctx context.Context, utterance, sessionID string) (Result, error) {
	if c.baseURL == "" {
		return FallbackClassify(utterance), nil
	}

	parsed, err := c.parse(ctx, utterance, sessionID)
	if err != nil {
		c.logger.Warn("rasa unreachable, using keyword fallback", "err", err)
		return FallbackClassify(utterance), nil
	}
	return Result{
		Text:       parsed.Text,
		Intent:     ParseIntent(parsed.Intent.Name),
		Confidence: parsed.Intent.Confidence,
		Entities:   parsed.Entities,
	}, nil
}

func (c *RasaClassifier) parse(ctx context.Context, utterance, sessionID string) (rasaParseResponse, error) {
	body, err := json.Marshal(map[string]string{
		"text":       utterance,
		"message_id": sessionID,
	})
	if err != nil {
		return rasaParseResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/model/parse", bytes.NewReader(body))
	if err != nil {
		return rasaParseResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rasaParseResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rasaParseResponse{}, fmt.Errorf("rasa parse returned status %d", resp.StatusCode)
	}

	var parsed rasaParseResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return rasaParseResponse{}, fmt.Errorf("rasa parse response: %w", err)
	}
	return parsed, nil
}
