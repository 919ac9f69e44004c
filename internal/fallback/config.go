package fallback

import "time"

// Config holds the orchestrator's tunables. Zero fields take defaults.
type Config struct {
	MaxResults            int           // search results requested
	CurateTop             int           // results forwarded to curation; negative disables
	EscalationTemperature float64       // upper bound for the escalated call
	SearchTimeout         time.Duration // bound on one search call
	CurationTags          []string

	DegradedAnswer  string // all providers exhausted
	NoInfoAnswer    string // search found nothing
	SummaryIntro    string // heads the snippet summary
	GroundingPrompt string // system prompt for the escalated call

	VisionPrompt    string
	VisionMaxTokens int
}

// Defaults.
const (
	DefaultMaxResults            = 5
	DefaultCurateTop             = 3
	DefaultEscalationTemperature = 0.3
	DefaultVisionMaxTokens       = 300

	DefaultDegradedAnswer  = "The service is temporarily unable to generate a response. Please try again later."
	DefaultNoInfoAnswer    = "No information was found for this question."
	DefaultSummaryIntro    = "A direct answer could not be generated. These web sources cover the question:"
	DefaultGroundingPrompt = "Answer the user's question using the numbered web search results provided. " +
		"Be factual and concise, and cite sources by their number."
	DefaultVisionPrompt = "Describe the image objectively in one or two sentences for a screen-reader user."
)

func (c Config) withDefaults() Config {
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.CurateTop < 0 {
		c.CurateTop = 0
	} else if c.CurateTop == 0 {
		c.CurateTop = DefaultCurateTop
	}
	if c.EscalationTemperature <= 0 {
		c.EscalationTemperature = DefaultEscalationTemperature
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 10 * time.Second
	}
	if len(c.CurationTags) == 0 {
		c.CurationTags = []string{"web_search", "refusal_escalation"}
	}
	if c.DegradedAnswer == "" {
		c.DegradedAnswer = DefaultDegradedAnswer
	}
	if c.NoInfoAnswer == "" {
		c.NoInfoAnswer = DefaultNoInfoAnswer
	}
	if c.SummaryIntro == "" {
		c.SummaryIntro = DefaultSummaryIntro
	}
	if c.GroundingPrompt == "" {
		c.GroundingPrompt = DefaultGroundingPrompt
	}
	if c.VisionPrompt == "" {
		c.VisionPrompt = DefaultVisionPrompt
	}
	if c.VisionMaxTokens <= 0 {
		c.VisionMaxTokens = DefaultVisionMaxTokens
	}
	return c
}
