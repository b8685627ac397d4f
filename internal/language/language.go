package language

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Auto requests language detection during transcription.
const Auto = "auto"

// bibliographic holds the ISO 639-2/B codes, which x/text does not parse.
var bibliographic = map[string]string{
	"alb": "sq", "arm": "hy", "baq": "eu", "bur": "my", "chi": "zh",
	"cze": "cs", "dut": "nl", "fre": "fr", "geo": "ka", "ger": "de",
	"gre": "el", "ice": "is", "mac": "mk", "mao": "mi", "may": "ms",
	"per": "fa", "rum": "ro", "slo": "sk", "tib": "bo", "wel": "cy",
}

// named are the languages also accepted by English name.
var named = func() map[string]string {
	codes := []string{
		"ar", "da", "de", "en", "es", "fi", "fr", "hi", "it", "ja",
		"ko", "nl", "no", "pl", "pt", "ru", "sv", "tr", "uk", "zh",
	}
	m := make(map[string]string, len(codes))
	for _, code := range codes {
		m[strings.ToLower(DisplayName(code))] = code
	}
	return m
}()

// Normalize maps an ISO 639 code or English language name to the two-letter
// code, or to the three-letter code for languages without one. Empty input
// stays empty.
func Normalize(raw string) (string, error) {
	code := strings.ToLower(strings.TrimSpace(raw))
	switch code {
	case "", Auto:
		return code, nil
	}
	if c, ok := named[code]; ok {
		return c, nil
	}
	if c, ok := bibliographic[code]; ok {
		return c, nil
	}
	base, err := language.ParseBase(code)
	if err != nil {
		return "", fmt.Errorf("unknown language %q", raw)
	}
	return base.String(), nil
}

// DisplayName returns the English name for a stored code, or the code in
// upper case when it has none.
func DisplayName(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	switch code {
	case "":
		return ""
	case Auto:
		return "Auto-detect"
	}
	tag, err := language.Parse(code)
	if err != nil {
		return strings.ToUpper(code)
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return strings.ToUpper(code)
}
