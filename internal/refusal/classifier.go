// Package refusal scores generated text for signs that the model declined
// to answer.
//
// Text is normalized before matching: lower-cased, diacritics removed and
// whitespace collapsed, so a single pattern covers "não posso" and
// "nao posso". Every matching pattern adds its weight to the confidence,
// which is capped at 1.
package refusal

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Default thresholds.
const (
	DefaultThreshold     = 0.5
	DefaultHighThreshold = 0.8
)

// shapeBonus is added when a pattern matches inside the opening sentence of
// a short answer.
const (
	shapeBonus     = 0.15
	shortAnswerLen = 400
)

// Level is the severity of a refusal.
type Level string

const (
	LevelNone Level = "none"
	LevelSoft Level = "soft"
	LevelHard Level = "hard"
)

func (l Level) rank() int {
	switch l {
	case LevelHard:
		return 2
	case LevelSoft:
		return 1
	default:
		return 0
	}
}

// Verdict is the classification of one response.
type Verdict struct {
	IsRefusal       bool     `json:"is_refusal"`
	Confidence      float64  `json:"confidence"`
	Level           Level    `json:"level"`
	MatchedPatterns []string `json:"matched_patterns,omitempty"`
}

// Pattern is one refusal matcher. Expr is matched against normalized text.
type Pattern struct {
	Name   string  `yaml:"name"`
	Expr   string  `yaml:"pattern"`
	Weight float64 `yaml:"weight"`
	Level  Level   `yaml:"level"`
}

type compiled struct {
	Pattern
	re *regexp.Regexp
}

// Classifier holds an immutable compiled pattern list and is safe for
// concurrent use.
type Classifier struct {
	patterns      []compiled
	threshold     float64
	highThreshold float64
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithThresholds overrides the refusal and high-confidence thresholds.
// Non-positive values keep the defaults.
func WithThresholds(threshold, high float64) Option {
	return func(c *Classifier) {
		if threshold > 0 {
			c.threshold = threshold
		}
		if high > 0 {
			c.highThreshold = high
		}
	}
}

// New compiles patterns into a Classifier. An empty list selects
// DefaultPatterns.
func New(patterns []Pattern, opts ...Option) (*Classifier, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	c := &Classifier{
		threshold:     DefaultThreshold,
		highThreshold: DefaultHighThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	if c.highThreshold < c.threshold {
		return nil, eris.Errorf("refusal: high threshold %.2f below threshold %.2f", c.highThreshold, c.threshold)
	}

	for i, p := range patterns {
		if p.Name == "" {
			return nil, eris.Errorf("refusal: pattern %d has no name", i)
		}
		if p.Weight <= 0 || p.Weight > 1 {
			return nil, eris.Errorf("refusal: pattern %s weight %.2f out of range (0,1]", p.Name, p.Weight)
		}
		if p.Level != LevelSoft && p.Level != LevelHard {
			return nil, eris.Errorf("refusal: pattern %s has invalid level %q", p.Name, p.Level)
		}
		re, err := regexp.Compile(p.Expr)
		if err != nil {
			return nil, eris.Wrapf(err, "refusal: compile pattern %s", p.Name)
		}
		c.patterns = append(c.patterns, compiled{Pattern: p, re: re})
	}
	return c, nil
}

// Classify scores text. Level stays none unless the text is a refusal.
func (c *Classifier) Classify(text string) Verdict {
	v := Verdict{Level: LevelNone}
	s := Normalize(text)
	if s == "" {
		return v
	}

	firstEnd := firstSentenceEnd(s)
	short := len([]rune(s)) <= shortAnswerLen
	level := LevelNone
	bonus := false

	for _, p := range c.patterns {
		loc := p.re.FindStringIndex(s)
		if loc == nil {
			continue
		}
		v.Confidence += p.Weight
		v.MatchedPatterns = append(v.MatchedPatterns, p.Name)
		if p.Level.rank() > level.rank() {
			level = p.Level
		}
		if short && loc[0] < firstEnd {
			bonus = true
		}
	}
	if bonus {
		v.Confidence += shapeBonus
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}

	v.IsRefusal = v.Confidence >= c.threshold
	if v.IsRefusal {
		v.Level = level
	}
	return v
}

// IsHighConfidence reports whether v is a refusal at or above the stricter
// threshold.
func (c *Classifier) IsHighConfidence(v Verdict) bool {
	return v.IsRefusal && v.Confidence >= c.highThreshold
}

// Threshold returns the refusal threshold.
func (c *Classifier) Threshold() float64 { return c.threshold }

// HighThreshold returns the high-confidence threshold.
func (c *Classifier) HighThreshold() float64 { return c.highThreshold }

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'")

// Normalize lower-cases text, strips combining marks and collapses
// whitespace.
func Normalize(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, text)
	if err != nil {
		stripped = text
	}
	stripped = apostrophes.Replace(strings.ToLower(stripped))
	return strings.Join(strings.Fields(stripped), " ")
}

// firstSentenceEnd returns the byte offset that ends the first sentence.
func firstSentenceEnd(s string) int {
	if i := strings.IndexAny(s, ".!?"); i >= 0 {
		return i + 1
	}
	return len(s)
}
