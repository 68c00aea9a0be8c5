package normalize

import (
	"regexp"
	"strings"
)

// reasoningPatterns match private reasoning sections some narrators emit
// around their prose. They must never reach the extraction oracle.
var reasoningPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
	regexp.MustCompile(`(?is)<council.*?</council>`),
	regexp.MustCompile(`(?is)<lumiaooc>.*?</lumiaooc>`),
}

// CleanReasoning removes reasoning sections from text and trims the result.
func CleanReasoning(text string) string {
	for _, p := range reasoningPatterns {
		text = p.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// MergeContinue joins a continued generation onto the text it continues.
// Without isContinue, or without previous text, current is returned as is.
func MergeContinue(current, previous string, isContinue bool) string {
	if !isContinue || strings.TrimSpace(previous) == "" {
		return current
	}
	return strings.TrimSpace(previous) + " " + strings.TrimSpace(current)
}
