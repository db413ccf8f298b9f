// Package memory extracts durable user facts from conversation turns.
//
// Extraction is a pure pass over a turn's user messages: explicit
// remember/forget directives and implicit signals (identity, preferences,
// possessions) become candidates for the judge to score. Running extraction
// twice over the same turn yields the same candidates.
package memory

import (
	"regexp"
	"strings"

	"github.com/steward-dev/steward/internal/store"
)

// Method is how a candidate was detected.
type Method string

const (
	MethodExplicitRemember Method = "explicit_remember"
	MethodExplicitForget   Method = "explicit_forget"
	MethodImplicit         Method = "implicit_signal"
)

// Category classifies the kind of fact a candidate states.
type Category = string

const (
	CategoryProfile    Category = "profile"
	CategoryPreference Category = "preference"
	CategoryOwnership  Category = "ownership"
	CategoryOther      Category = "other"
)

// MaxConfidence is assigned to explicit directives; the rule scorer never
// second-guesses stated intent.
const MaxConfidence = 1.0

// Candidate is an unconfirmed fact extracted from a turn.
type Candidate struct {
	SourceMessageID string
	Method          Method
	Text            string // raw matched text
	Normalized      string
	Category        Category
	Confidence      float64
}

// Extractor detects memory candidates in user messages.
type Extractor struct {
	explicit []explicitPattern
	implicit []implicitPattern
}

// NewExtractor builds an extractor with the built-in English and Spanish
// pattern sets.
func NewExtractor() *Extractor {
	return &Extractor{
		explicit: explicitPatterns,
		implicit: implicitPatterns,
	}
}

// Extract scans a turn's messages in order and returns candidates in a
// deterministic order. Only user messages are scanned.
func (e *Extractor) Extract(messages []store.Message) []Candidate {
	var out []Candidate
	seen := make(map[string]bool)

	for _, msg := range messages {
		if msg.Role != store.RoleUser {
			continue
		}
		for _, c := range e.extractMessage(msg) {
			key := string(c.Method) + "\x1f" + c.Category + "\x1f" + c.Normalized
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, c)
		}
	}
	return out
}

func (e *Extractor) extractMessage(msg store.Message) []Candidate {
	var out []Candidate
	content := msg.Content

	// Forget spans are claimed first so a remember pattern cannot re-match
	// inside a "don't remember ..." phrasing.
	var forgetSpans [][]int
	for _, p := range e.explicit {
		for _, idx := range p.re.FindAllStringSubmatchIndex(content, -1) {
			if p.method == MethodExplicitRemember && within(idx[0], forgetSpans) {
				continue
			}
			text := strings.TrimSpace(content[idx[len(idx)-2]:idx[len(idx)-1]])
			if text == "" {
				continue
			}
			if p.method == MethodExplicitForget {
				forgetSpans = append(forgetSpans, []int{idx[0], idx[1]})
			}
			out = append(out, Candidate{
				SourceMessageID: msg.ID,
				Method:          p.method,
				Text:            text,
				Normalized:      Normalize(text),
				Category:        classify(text),
				Confidence:      MaxConfidence,
			})
		}
	}

	for _, p := range e.implicit {
		for _, m := range p.re.FindAllStringSubmatch(content, -1) {
			text := strings.TrimSpace(m[0])
			if text == "" {
				continue
			}
			out = append(out, Candidate{
				SourceMessageID: msg.ID,
				Method:          MethodImplicit,
				Text:            text,
				Normalized:      Normalize(text),
				Category:        p.category,
				Confidence:      p.confidence,
			})
		}
	}

	return out
}

func within(pos int, spans [][]int) bool {
	for _, s := range spans {
		if pos >= s[0] && pos < s[1] {
			return true
		}
	}
	return false
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	trailingRe   = regexp.MustCompile(`[.!?,;:\s]+$`)
)

// Normalize lowercases, collapses whitespace, and strips trailing
// punctuation so duplicate facts compare equal.
func Normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = trailingRe.ReplaceAllString(s, "")
	return s
}

// classify assigns a category hint to explicit directive text based on the
// same signal vocabulary the implicit pass uses.
func classify(text string) Category {
	lower := strings.ToLower(text)
	for _, c := range classifierHints {
		if c.re.MatchString(lower) {
			return c.category
		}
	}
	return CategoryOther
}
