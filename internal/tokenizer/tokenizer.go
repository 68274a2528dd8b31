// Package tokenizer implements the process-wide tokenizer dispatch: a
// model-id substring match to one of a handful of tiktoken encodings,
// lazily constructed and memoized per variant. Counts are estimates used
// for pre-call budget checks and for the usage recorded on streamed
// completions; non-streamed completions and embeddings record the usage
// the provider reports.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/vantagegw/llm-gateway/providers"
)

// Variant names the tokenizer family dispatched to for a model ID.
type Variant string

// Variant constants, matching the dispatch table's buckets.
const (
	VariantGPT4o   Variant = "gpt-4o"
	VariantGPT4    Variant = "gpt-4"
	VariantGPT35   Variant = "gpt-3.5"
	VariantClaude  Variant = "claude"
	VariantLlama   Variant = "llama"
	VariantMistral Variant = "mistral"
	VariantGemini  Variant = "gemini"
	VariantDefault Variant = "default"
)

// encodingFor maps a variant to the tiktoken encoding used to approximate
// it. Only OpenAI's own encodings are accurate; other model families use
// cl100k_base as a documented approximation (tends to undercount slightly).
var encodingFor = map[Variant]string{
	VariantGPT4o:   "o200k_base",
	VariantGPT4:    "cl100k_base",
	VariantGPT35:   "cl100k_base",
	VariantClaude:  "cl100k_base",
	VariantLlama:   "cl100k_base",
	VariantMistral: "cl100k_base",
	VariantGemini:  "cl100k_base",
	VariantDefault: "cl100k_base",
}

// VariantForModel dispatches a model ID to its tokenizer variant by
// substring match. Order matters: more specific families are checked
// before their broader prefix (gpt-4o before gpt-4).
func VariantForModel(modelID string) Variant {
	m := strings.ToLower(modelID)
	switch {
	case strings.Contains(m, "gpt-4o"):
		return VariantGPT4o
	case strings.Contains(m, "gpt-4"):
		return VariantGPT4
	case strings.Contains(m, "gpt-3.5"):
		return VariantGPT35
	case strings.Contains(m, "claude"):
		return VariantClaude
	case strings.Contains(m, "llama"):
		return VariantLlama
	case strings.Contains(m, "mistral"):
		return VariantMistral
	case strings.Contains(m, "gemini"):
		return VariantGemini
	default:
		return VariantDefault
	}
}

// Tokenizer counts tokens for a single variant. It falls back to a
// chars/4 heuristic if the tiktoken encoding cannot be loaded, so callers
// never see an error from counting.
type Tokenizer struct {
	variant Variant

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func newTokenizer(v Variant) *Tokenizer {
	return &Tokenizer{variant: v}
}

func (t *Tokenizer) ensure() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingFor[t.variant])
		if err != nil {
			return // t.enc stays nil; Count falls back to the heuristic
		}
		t.enc = enc
	})
}

// Count estimates the token count of a single string.
func (t *Tokenizer) Count(s string) int {
	t.ensure()
	if t.enc == nil {
		return len(s) / 4
	}
	return len(t.enc.Encode(s, nil, nil))
}

// messageOverheadTokens approximates the per-message framing tokens
// (role markers, separators) that a chat-formatted prompt adds on top of
// its raw content, per OpenAI's documented chat-completion accounting.
const messageOverheadTokens = 4

// CountMessages estimates the total prompt token count for a sequence of
// chat messages, including per-message framing overhead.
func (t *Tokenizer) CountMessages(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += messageOverheadTokens
		total += t.Count(m.Role)
		total += t.Count(m.Content)
	}
	total += 3 // conversation-level closing overhead
	return total
}

// Dispatcher memoizes one Tokenizer per variant, safe for concurrent use.
type Dispatcher struct {
	mu         sync.Mutex
	tokenizers map[Variant]*Tokenizer
}

// NewDispatcher constructs an empty, ready-to-use Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{tokenizers: make(map[Variant]*Tokenizer)}
}

// For returns the memoized Tokenizer for modelID's variant, constructing
// it on first use.
func (d *Dispatcher) For(modelID string) *Tokenizer {
	v := VariantForModel(modelID)
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.tokenizers[v]; ok {
		return t
	}
	t := newTokenizer(v)
	d.tokenizers[v] = t
	return t
}

// defaultDispatcher is the process-wide tokenizer dispatch table.
var defaultDispatcher = NewDispatcher()

// CountPromptTokens estimates the prompt token count for modelID's chat
// messages, using the process-wide dispatcher.
func CountPromptTokens(modelID string, messages []providers.Message) int {
	return defaultDispatcher.For(modelID).CountMessages(messages)
}

// CountTextTokens estimates the token count of a single string for
// modelID's dispatched variant (used for embedding inputs).
func CountTextTokens(modelID, text string) int {
	return defaultDispatcher.For(modelID).Count(text)
}
