package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Transport delivers one rendered message to an address. Implementations
// report failure with an error; they never panic the caller.
type Transport interface {
	Send(ctx context.Context, to, body string) error
}

// TwilioWhatsAppSender posts messages through Twilio's REST API on the
// WhatsApp channel.
type TwilioWhatsAppSender struct {
	accountSID string
	authToken  string
	from       string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewTwilioWhatsAppSender(accountSID, authToken, from string, logger *slog.Logger) *TwilioWhatsAppSender {
	return &TwilioWhatsAppSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Send dispatches a single WhatsApp message, retrying transient failures
// twice. to must already be a whatsapp:+<digits> address.
func (s *TwilioWhatsAppSender) Send(ctx context.Context, to, body string) error {
	if s.accountSID == "" || s.authToken == "" {
		return errors.New("twilio credentials missing")
	}
	if strings.TrimSpace(to) == "" {
		return errors.New("recipient required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("message body required")
	}

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", s.from)
	payload.Set("Body", body)

	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", s.accountSID)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			return err
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				s.logger.Info("whatsapp message sent", "to", to)
				return nil
			}
			lastErr = fmt.Errorf("twilio send failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
			// 4xx (other than rate limiting) will not get better on retry.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return lastErr
			}
		}

		if attempt < 3 {
			time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
		}
	}
	return lastErr
}

// NoopSender logs instead of delivering. Used when Twilio is not configured.
type NoopSender struct {
	Logger *slog.Logger
}

func (s NoopSender) Send(ctx context.Context, to, body string) error {
	s.Logger.Info("message delivery skipped (no transport configured)", "to", to, "chars", len(body))
	return nil
}
