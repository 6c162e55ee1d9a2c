package whatsapp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// ValidSignature checks a Twilio webhook signature. Twilio signs the full
// webhook URL concatenated with the form parameters sorted by key, using
// HMAC-SHA1 over the account auth token, and sends the base64 digest in the
// X-Twilio-Signature header.
func ValidSignature(authToken, webhookURL string, form url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	expected := computeSignature(authToken, webhookURL, form)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func computeSignature(authToken, webhookURL string, form url.Values) string {
	var b strings.Builder
	b.WriteString(webhookURL)

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
