package provider

import (
	"context"
	"hash/fnv"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/mrz1836/storyloom/internal/domain"
)

// ScriptedResponse is one canned answer of a ScriptedGenerator.
type ScriptedResponse struct {
	Content string
	Err     error
}

// ScriptedGenerator replays canned responses in order and, once the script
// runs out, synthesizes deterministic text from the prompt. It backs dry runs
// and tests.
type ScriptedGenerator struct {
	mu      sync.Mutex
	script  []ScriptedResponse
	prompts []string
}

// NewScripted creates a scripted generator.
func NewScripted(script ...ScriptedResponse) *ScriptedGenerator {
	return &ScriptedGenerator{script: script}
}

// Generate returns the next scripted response or synthesized text.
func (s *ScriptedGenerator) Generate(ctx context.Context, prompt string, _ Parameters) (*Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	var next *ScriptedResponse
	if len(s.script) > 0 {
		r := s.script[0]
		s.script = s.script[1:]
		next = &r
	}
	s.mu.Unlock()

	content := ""
	if next != nil {
		if next.Err != nil {
			return nil, next.Err
		}
		content = next.Content
	} else {
		content = synthesize(prompt)
	}

	promptTokens := len(strings.Fields(prompt))
	completionTokens := len(strings.Fields(content))
	return &Generation{
		Content: content,
		Model:   "scripted",
		Usage: domain.TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// Prompts returns every prompt received so far.
func (s *ScriptedGenerator) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

//nolint:gochecknoglobals // Read-only synthesis tables
var (
	targetWordsPattern = regexp.MustCompile(`Target length: about (\d+) words`)
	syllables          = []string{
		"al", "ber", "cor", "dan", "el", "fen", "gar", "hol", "is", "jor", "kel", "lum",
		"mar", "nor", "or", "pel", "quin", "ros", "sel", "tor", "ul", "ven", "wyr", "yen",
	}
)

const defaultSynthesizedWords = 120

// synthesize builds deterministic filler that mentions the prompt's names
// and requirement words.
func synthesize(prompt string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(prompt))
	rng := rand.New(rand.NewSource(int64(h.Sum64()))) //nolint:gosec // deterministic filler, not security

	target := defaultSynthesizedWords
	if m := targetWordsPattern.FindStringSubmatch(prompt); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			target = n
		}
	}

	var anchors []string
	seen := make(map[string]bool)
	for _, w := range strings.FieldsFunc(prompt, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if len(w) >= 4 && !seen[w] {
			seen[w] = true
			anchors = append(anchors, w)
		}
	}

	words := make([]string, 0, target+len(anchors))
	words = append(words, anchors...)
	for len(words) < target {
		n := 2 + rng.Intn(2)
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteString(syllables[rng.Intn(len(syllables))])
		}
		words = append(words, b.String())
	}

	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			if i%12 == 0 {
				b.WriteString(". ")
			} else {
				b.WriteString(" ")
			}
		}
		b.WriteString(w)
	}
	b.WriteString(".")
	return b.String()
}
