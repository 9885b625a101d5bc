package llm

import "strings"

// replyLeadIns are preambles models put before a one-line suggestion.
var replyLeadIns = []string{
	"here's a suggestion:",
	"here is a suggestion:",
	"suggestion:",
	"next step:",
}

// afterReasoning drops a reasoning block closed by </think>, if any.
func afterReasoning(s string) string {
	if _, rest, ok := strings.Cut(s, "</think>"); ok {
		return rest
	}
	return s
}

// cleanText reduces a free-text reply to the suggestion itself.
func cleanText(s string) string {
	s = strings.TrimSpace(afterReasoning(strings.TrimSpace(s)))
	if unq, ok := strings.CutPrefix(s, `"`); ok {
		if unq, ok = strings.CutSuffix(unq, `"`); ok {
			s = unq
		}
	}
	for _, lead := range replyLeadIns {
		if len(s) >= len(lead) && strings.EqualFold(s[:len(lead)], lead) {
			s = strings.TrimSpace(s[len(lead):])
		}
	}
	return strings.TrimSpace(s)
}

// cleanJSON cuts the outermost JSON object out of a reply that may carry
// markdown fences or a preamble. Without an object the trimmed reply is
// returned so the decoder reports what was wrong.
func cleanJSON(s string) string {
	s = strings.TrimSpace(afterReasoning(s))
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
