// Package filter implements the content-filter gate (C4): a three-stage
// evaluation of prompt and completion text — blocked terms, blocked regex
// patterns, then a category classifier — used to deny requests before
// routing and completions before they reach the client.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Category names for the classifier's score map, matching the spec's fixed
// taxonomy.
const (
	CategoryHate       = "hate"
	CategoryHarassment = "harassment"
	CategorySelfHarm   = "self_harm"
	CategorySexual     = "sexual"
	CategoryViolence   = "violence"
)

// Config holds the filter's static configuration.
type Config struct {
	Enable               bool
	FilterPrompts        bool
	FilterCompletions    bool
	BlockedTerms         []string
	BlockedRegexPatterns []string
	CategoryThresholds   map[string]float64
}

// Result is the outcome of evaluating a single string.
type Result struct {
	Allowed    bool
	Reason     string
	Categories []string
	Scores     map[string]float64
}

// Classifier scores a string against the fixed category taxonomy. A
// baseline KeywordClassifier is provided; implementers may substitute a
// model-based classifier while preserving this port.
type Classifier interface {
	Classify(s string) map[string]float64
}

// Filter evaluates prompt and completion strings against blocked terms,
// blocked regex patterns, and a pluggable Classifier.
type Filter struct {
	cfg        Config
	patterns   []*regexp.Regexp
	classifier Classifier
}

// New compiles cfg.BlockedRegexPatterns and wires classifier (defaulting to
// a KeywordClassifier over the built-in default keyword groups if classifier
// is nil; cfg.BlockedTerms is not used by the classifier).
func New(cfg Config, classifier Classifier) (*Filter, error) {
	compiled := make([]*regexp.Regexp, 0, len(cfg.BlockedRegexPatterns))
	for _, p := range cfg.BlockedRegexPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile blocked pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	if classifier == nil {
		classifier = NewKeywordClassifier(nil)
	}
	return &Filter{cfg: cfg, patterns: compiled, classifier: classifier}, nil
}

// MatchBlockedTerms reports the first blocked term found in s
// (case-insensitive substring match), or "" if none match.
func MatchBlockedTerms(s string, terms []string) string {
	lower := strings.ToLower(s)
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			return term
		}
	}
	return ""
}

// FilterContent runs the three-stage evaluation (blocked terms -> blocked
// regex -> classification) against s, independent of the prompt/completion
// gating flags.
func (f *Filter) FilterContent(s string) Result {
	if term := MatchBlockedTerms(s, f.cfg.BlockedTerms); term != "" {
		return Result{Allowed: false, Reason: "blocked_term:" + term}
	}

	for _, re := range f.patterns {
		if re.MatchString(s) {
			return Result{Allowed: false, Reason: "blocked_pattern"}
		}
	}

	scores := f.classifier.Classify(s)
	var flagged []string
	for category, threshold := range f.cfg.CategoryThresholds {
		if score, ok := scores[category]; ok && score >= threshold {
			flagged = append(flagged, category)
		}
	}
	if len(flagged) > 0 {
		return Result{Allowed: false, Reason: "category_threshold", Categories: flagged, Scores: scores}
	}

	return Result{Allowed: true, Scores: scores}
}

// FilterPrompt evaluates every message's content in a completion request's
// prompt, short-circuiting on the first denial. It is a no-op (always
// allowed) when cfg.FilterPrompts is false.
func (f *Filter) FilterPrompt(messageContents []string) Result {
	if !f.cfg.Enable || !f.cfg.FilterPrompts {
		return Result{Allowed: true}
	}
	for _, content := range messageContents {
		if r := f.FilterContent(content); !r.Allowed {
			return r
		}
	}
	return Result{Allowed: true}
}

// FilterCompletion evaluates a single completion string. A no-op when
// cfg.FilterCompletions is false.
func (f *Filter) FilterCompletion(content string) Result {
	if !f.cfg.Enable || !f.cfg.FilterCompletions {
		return Result{Allowed: true}
	}
	return f.FilterContent(content)
}
