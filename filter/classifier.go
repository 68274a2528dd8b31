package filter

import "strings"

// keywordScoreStep is the score contributed by each distinct keyword match
// within a category, per §4.4's baseline classifier definition.
const keywordScoreStep = 0.2

// defaultKeywordGroups seeds the baseline classifier when the caller does
// not supply its own. These are illustrative only — a real deployment is
// expected to substitute a model-based Classifier.
var defaultKeywordGroups = map[string][]string{
	CategoryHate:       {"hate", "racist", "bigot"},
	CategoryHarassment: {"harass", "bully", "threaten"},
	CategorySelfHarm:   {"suicide", "self-harm", "self harm"},
	CategorySexual:     {"explicit sexual", "nsfw"},
	CategoryViolence:   {"kill", "murder", "attack"},
}

// KeywordClassifier is the baseline Classifier: for each category it counts
// distinct keyword matches, multiplies by 0.2, and clamps to 1.0.
type KeywordClassifier struct {
	groups map[string][]string
}

// NewKeywordClassifier builds a KeywordClassifier from groups (category ->
// keyword list). A nil/empty groups falls back to defaultKeywordGroups.
func NewKeywordClassifier(groups map[string][]string) *KeywordClassifier {
	if len(groups) == 0 {
		groups = defaultKeywordGroups
	}
	return &KeywordClassifier{groups: groups}
}

// Classify scores s against every configured category.
func (k *KeywordClassifier) Classify(s string) map[string]float64 {
	lower := strings.ToLower(s)
	scores := make(map[string]float64, len(k.groups))
	for category, keywords := range k.groups {
		distinct := 0
		for _, kw := range keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				distinct++
			}
		}
		score := float64(distinct) * keywordScoreStep
		if score > 1.0 {
			score = 1.0
		}
		scores[category] = score
	}
	return scores
}
