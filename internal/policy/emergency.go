package policy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lowercases s and strips diacritics so "Convulsão" matches "convulsao".
func fold(s string) string {
	// Chained transformers carry state; build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// compileKeywords builds a whole-word matcher over folded text.
func compileKeywords(keywords []string) *regexp.Regexp {
	var alts []string
	for _, k := range keywords {
		if f := fold(k); f != "" {
			alts = append(alts, regexp.QuoteMeta(f))
		}
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)\b`)
}

// emergencyDetector matches folded queries. A nil matcher never matches.
type emergencyDetector struct {
	keywords   *regexp.Regexp
	topics     *regexp.Regexp
	cues       *regexp.Regexp
	exclusions *regexp.Regexp
}

func newEmergencyDetector(cfg EmergencyConfig) emergencyDetector {
	return emergencyDetector{
		keywords:   compileKeywords(cfg.Keywords),
		topics:     compileKeywords(cfg.Topics),
		cues:       compileKeywords(cfg.Cues),
		exclusions: compileKeywords(cfg.Exclusions),
	}
}

func matches(re *regexp.Regexp, s string) bool {
	return re != nil && re.MatchString(s)
}

func (d emergencyDetector) detect(query string) bool {
	q := fold(query)
	if matches(d.keywords, q) {
		return true
	}
	// "prevenção de incêndio" names the topic without anything happening.
	return matches(d.topics, q) && matches(d.cues, q) && !matches(d.exclusions, q)
}

// IsEmergency reports whether query signals imminent risk to life, health or
// safety.
func (e *Engine) IsEmergency(query string) bool {
	return e.emergency.detect(query)
}

// EmergencyMessage is the fixed redirect returned for emergency queries.
func (e *Engine) EmergencyMessage() string {
	return e.config.Emergency.Message
}
