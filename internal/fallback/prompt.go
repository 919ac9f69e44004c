package fallback

import (
	"fmt"
	"strings"

	"github.com/sells-group/genroute/internal/search"
)

// groundedQuestion embeds numbered snippets ahead of the question.
func groundedQuestion(query string, results []search.Result) string {
	var b strings.Builder
	b.WriteString("Web search results:\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, displayTitle(r))
		if r.Snippet != "" {
			b.WriteString(r.Snippet)
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Source: %s\n\n", r.URL)
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

// summarize builds the deterministic answer used when the escalated
// response is still refused.
func summarize(intro string, results []search.Result) string {
	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s", i+1, displayTitle(r))
		if r.Snippet != "" {
			b.WriteString(": ")
			b.WriteString(r.Snippet)
		}
		fmt.Fprintf(&b, " (%s)", r.URL)
	}
	return b.String()
}

func displayTitle(r search.Result) string {
	if t := strings.TrimSpace(r.Title); t != "" {
		return t
	}
	return r.URL
}
