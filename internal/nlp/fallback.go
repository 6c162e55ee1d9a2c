package nlp

import (
	"regexp"
	"strings"
)

// Keyword fallback for when Rasa is down. Matches common Italian phrasings.
var (
	reCancel       = regexp.MustCompile(`(?i)\b(cancell|annull|disdi)`)
	reAvailability = regexp.MustCompile(`(?i)\b(disponib|liber[oia]|orari|quando)`)
	reBook         = regexp.MustCompile(`(?i)\b(prenot|appuntament|fissare|vorrei)`)
	reGreet        = regexp.MustCompile(`(?i)\b(ciao|salve|buongiorno|buonasera)\b`)
)

var serviceKeywords = []struct {
	pattern *regexp.Regexp
	service string
}{
	{regexp.MustCompile(`(?i)taglio e shampoo|shampoo`), "wash_and_cut"},
	{regexp.MustCompile(`(?i)\bbarba\b`), "beard_trim"},
	{regexp.MustCompile(`(?i)\brasatura\b`), "shave"},
	{regexp.MustCompile(`(?i)\bstyling\b|\bpiega\b`), "styling"},
	{regexp.MustCompile(`(?i)\btaglio\b|\bcapelli\b`), "haircut"},
}

// FallbackClassify resolves the intent with keyword rules. Confidence is a
// fixed low value so callers can tell rule hits from model predictions.
func FallbackClassify(utterance string) Result {
	res := Result{Text: utterance, Confidence: 0.3, Intent: IntentFallback}

	switch {
	case reCancel.MatchString(utterance):
		res.Intent = IntentCancelAppointment
	case reAvailability.MatchString(utterance):
		res.Intent = IntentCheckAvailability
	case reBook.MatchString(utterance):
		res.Intent = IntentBookAppointment
	case reGreet.MatchString(utterance):
		res.Intent = IntentGreet
	}

	for _, kw := range serviceKeywords {
		if kw.pattern.MatchString(utterance) {
			res.Entities = append(res.Entities, Entity{Entity: "service", Value: kw.service})
			break
		}
	}

	if strings.TrimSpace(utterance) == "" {
		res.Intent = IntentFallback
	}
	return res
}
