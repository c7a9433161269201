// Package selector implements a three-tier cascade (rule-based pattern
// match, RAG semantic retrieval, LLM reasoning) that picks candidate
// functions for a query, tagging the result with the tier that produced
// it and a confidence score.
package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/conduit/internal/llmprovider"
	"github.com/haasonsaas/conduit/internal/ragretriever"
	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Method identifies which tier produced a selection.
type Method string

const (
	MethodRuleBased Method = "rule_based"
	MethodRAG       Method = "rag_semantic"
	MethodLLM       Method = "llm_reasoning"
)

// Result is what select() returns: the chosen functions, the tier that
// produced them, and a confidence in [0,1].
type Result struct {
	Functions  []*models.FunctionSchema
	Method     Method
	Confidence float64
}

// Stats are the selector's running per-tier hit counters, kept for
// observability.
type Stats struct {
	RuleHits int
	RAGHits  int
	LLMHits  int
	Misses   int
}

// Config holds the selector's per-tier tunables.
type Config struct {
	RuleThreshold    float64
	RAGTimeout       time.Duration
	LLMTopK          int
	LLMMaxCandidates int
}

// DefaultConfig returns the selector's baseline per-tier settings.
func DefaultConfig() Config {
	return Config{
		RuleThreshold:    0.85,
		RAGTimeout:       10 * time.Second,
		LLMTopK:          5,
		LLMMaxCandidates: 15,
	}
}

// Selector runs the rule/RAG/LLM tier cascade to pick candidate functions.
type Selector struct {
	registry  *registry.Service
	retriever *ragretriever.Retriever
	llm       llmprovider.Provider
	cfg       Config

	mu    sync.Mutex
	stats Stats
}

// New builds a Selector.
func New(reg *registry.Service, retriever *ragretriever.Retriever, llm llmprovider.Provider, cfg Config) *Selector {
	if cfg.RuleThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Selector{registry: reg, retriever: retriever, llm: llm, cfg: cfg}
}

// Stats returns a snapshot of the selector's per-tier hit counters.
func (s *Selector) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// rulePattern is one category's set of case-insensitive regex patterns
// the rule tier matches a query against.
type rulePattern struct {
	category string
	patterns []*regexp.Regexp
}

// rulePatterns is the static category-to-pattern table for the rule tier.
// Patterns are deliberately broad phrasings for common intents; new
// categories are added here as the registry grows new function families.
var rulePatterns = []rulePattern{
	{
		category: "weather",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bweather\b`),
			regexp.MustCompile(`(?i)\btemperature\b`),
			regexp.MustCompile(`(?i)\bforecast\b`),
			regexp.MustCompile(`(?i)\brain(ing|y)?\b`),
		},
	},
	{
		category: "finance",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bstock\s*price\b`),
			regexp.MustCompile(`(?i)\bexchange\s*rate\b`),
			regexp.MustCompile(`(?i)\bticker\b`),
			regexp.MustCompile(`(?i)\bcurrency\b`),
		},
	},
	{
		category: "search",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bsearch\s+for\b`),
			regexp.MustCompile(`(?i)\blook\s*up\b`),
			regexp.MustCompile(`(?i)\bfind\s+(me\s+)?(information|info|details)\b`),
		},
	},
	{
		category: "calendar",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bschedule\b`),
			regexp.MustCompile(`(?i)\bcalendar\b`),
			regexp.MustCompile(`(?i)\bmeeting\b`),
			regexp.MustCompile(`(?i)\bappointment\b`),
		},
	},
	{
		category: "email",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bsend\s+(an?\s+)?email\b`),
			regexp.MustCompile(`(?i)\bemail\s+to\b`),
			regexp.MustCompile(`(?i)\binbox\b`),
		},
	},
}

// Select runs the three-tier cascade. ctx governs the whole call; the RAG
// tier additionally bounds itself to cfg.RAGTimeout.
func (s *Selector) Select(ctx context.Context, query string, history []string, topK int) (Result, error) {
	if topK <= 0 {
		topK = s.cfg.LLMTopK
	}

	if res, ok, err := s.ruleTier(ctx, query, topK); err != nil {
		return Result{}, err
	} else if ok {
		s.bump(func(st *Stats) { st.RuleHits++ })
		return res, nil
	}

	if res, ok, err := s.ragTier(ctx, query, topK); err != nil {
		return Result{}, err
	} else if ok {
		s.bump(func(st *Stats) { st.RAGHits++ })
		return res, nil
	}

	if res, ok, err := s.llmTier(ctx, query, topK); err != nil {
		return Result{}, err
	} else if ok {
		s.bump(func(st *Stats) { st.LLMHits++ })
		return res, nil
	}

	s.bump(func(st *Stats) { st.Misses++ })
	return Result{Confidence: 0}, nil
}

func (s *Selector) bump(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

// ruleTier scores the query against every category's pattern table and,
// if the best category clears RuleThreshold, hands off to the RAG
// retriever for candidates within that category, but reports the rule
// score and rule_based as the method.
func (s *Selector) ruleTier(ctx context.Context, query string, topK int) (Result, bool, error) {
	bestCategory := ""
	bestScore := 0.0
	for _, rp := range rulePatterns {
		matches := 0
		for _, pat := range rp.patterns {
			if pat.MatchString(query) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		score := float64(matches) / float64(len(rp.patterns))
		if score > 1.0 {
			score = 1.0
		}
		if matches >= 2 {
			score += 0.2
			if score > 1.0 {
				score = 1.0
			}
		}
		if score > bestScore {
			bestScore = score
			bestCategory = rp.category
		}
	}
	if bestCategory == "" || bestScore < s.cfg.RuleThreshold {
		return Result{}, false, nil
	}

	candidates, err := s.retriever.Retrieve(ctx, query, bestCategory, true, 0, topK)
	if err != nil {
		return Result{}, false, fmt.Errorf("selector: rule tier retrieve: %w", err)
	}
	if len(candidates) == 0 {
		return Result{}, false, nil
	}
	fns := make([]*models.FunctionSchema, len(candidates))
	for i, c := range candidates {
		fns[i] = c.Function
	}
	return Result{Functions: fns, Method: MethodRuleBased, Confidence: bestScore}, true, nil
}

// ragWeights are the fixed per-rank weights for the RAG tier's
// confidence, capped at the number of results returned.
var ragWeights = []float64{1.0, 0.7, 0.5, 0.3, 0.2}

func (s *Selector) ragTier(ctx context.Context, query string, topK int) (Result, bool, error) {
	ragCtx, cancel := context.WithTimeout(ctx, s.cfg.RAGTimeout)
	defer cancel()

	candidates, err := s.retriever.Retrieve(ragCtx, query, "", true, 0, topK)
	if err != nil {
		return Result{}, false, nil // a RAG-tier failure falls through to the LLM tier, it is not a selector-fatal error
	}
	if len(candidates) == 0 {
		return Result{}, false, nil
	}

	weightSum, scoreSum := 0.0, 0.0
	for i, c := range candidates {
		w := 0.1
		if i < len(ragWeights) {
			w = ragWeights[i]
		}
		weightSum += w
		scoreSum += w * float64(c.Score)
	}
	confidence := 0.0
	if weightSum > 0 {
		confidence = scoreSum / weightSum
	}

	fns := make([]*models.FunctionSchema, len(candidates))
	for i, c := range candidates {
		fns[i] = c.Function
	}
	return Result{Functions: fns, Method: MethodRAG, Confidence: confidence}, true, nil
}

// llmTier presents up to LLMMaxCandidates function summaries and asks the
// LLM collaborator to pick the top-topK names as a JSON array.
func (s *Selector) llmTier(ctx context.Context, query string, topK int) (Result, bool, error) {
	page, _, err := s.registry.List(ctx, models.FunctionFilter{}, models.Page{Limit: s.cfg.LLMMaxCandidates})
	if err != nil {
		return Result{}, false, fmt.Errorf("selector: llm tier list: %w", err)
	}
	if len(page) == 0 {
		return Result{}, false, nil
	}

	var sb strings.Builder
	byName := make(map[string]*models.FunctionSchema, len(page))
	for _, fn := range page {
		byName[fn.Name] = fn
		fmt.Fprintf(&sb, "- %s: %s\n", fn.Name, fn.Description)
	}

	prompt := fmt.Sprintf(
		"Given the user query, choose up to %d of the following functions that best satisfy it. "+
			"Respond with a JSON array of function names only, most relevant first.\n\nQuery: %s\n\nFunctions:\n%s",
		topK, query, sb.String())

	text, err := s.llm.Generate(ctx, prompt, 256)
	if err != nil {
		return Result{}, false, nil // LLM-tier failure is a miss, not a selector error
	}

	names := extractJSONStringArray(text)
	if len(names) == 0 {
		return Result{}, false, nil
	}

	var fns []*models.FunctionSchema
	for _, name := range names {
		if fn, ok := byName[name]; ok {
			fns = append(fns, fn)
		}
		if len(fns) >= topK {
			break
		}
	}
	if len(fns) == 0 {
		return Result{}, false, nil
	}
	return Result{Functions: fns, Method: MethodLLM, Confidence: 0.7}, true, nil
}

var jsonArrayPattern = regexp.MustCompile(`\[[^\[\]]*\]`)

// extractJSONStringArray pulls the first bracketed JSON array out of text
// (the LLM may wrap it in prose) and parses it as a []string.
func extractJSONStringArray(text string) []string {
	match := jsonArrayPattern.FindString(text)
	if match == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(match), &names); err != nil {
		return nil
	}
	return names
}
