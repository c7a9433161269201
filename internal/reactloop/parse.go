package reactloop

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/haasonsaas/conduit/pkg/models"
)

var (
	functionFieldRe = regexp.MustCompile(`(?i)Function:\s*(\w+)`)
	underscoredRe   = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9]*_[a-zA-Z0-9_]*`)
)

// extractFunctionName pulls the function name out of an ACT completion: a
// `Function:\s*(\w+)` match, falling back to the first underscored
// alphanumeric token in the text.
func extractFunctionName(text string) string {
	if m := functionFieldRe.FindStringSubmatch(text); len(m) == 2 {
		return m[1]
	}
	if m := underscoredRe.FindString(text); m != "" {
		return m
	}
	return ""
}

// resolveFunction finds the candidate whose Name or FunctionID matches
// name case-insensitively.
func resolveFunction(name string, candidates []*models.FunctionSchema) *models.FunctionSchema {
	if name == "" {
		return nil
	}
	lower := strings.ToLower(name)
	for _, fn := range candidates {
		if strings.ToLower(fn.Name) == lower || strings.ToLower(fn.FunctionID) == lower {
			return fn
		}
	}
	return nil
}

var (
	qualityLineRe      = regexp.MustCompile(`(?i)Quality:\s*([0-9]*\.?[0-9]+)`)
	continueLineRe     = regexp.MustCompile(`(?i)Continue:\s*(yes|no|true|false)`)
	clarificationLineRe = regexp.MustCompile(`(?i)Clarification:\s*(yes|no|true|false)`)
	reasoningRe        = regexp.MustCompile(`(?i)Reasoning:\s*(.+)`)
)

type parsedReflection struct {
	Quality               float64
	Continue              bool
	NeedsClarification    bool
	Reasoning             string
}

// parseReflectionText parses the REFLECT completion's fixed line format,
// tolerating missing or malformed fields by falling back to conservative
// defaults (low quality, stop). The Clarification line is a supplemented
// field: the original orchestrator's REFLECT step can flag an ambiguous
// query rather than just a low score.
func parseReflectionText(text string) parsedReflection {
	out := parsedReflection{Quality: 0, Continue: false}

	if m := qualityLineRe.FindStringSubmatch(text); len(m) == 2 {
		if q, err := strconv.ParseFloat(m[1], 64); err == nil {
			if q < 0 {
				q = 0
			}
			if q > 1 {
				q = 1
			}
			out.Quality = q
		}
	}
	if m := continueLineRe.FindStringSubmatch(text); len(m) == 2 {
		out.Continue = isAffirmative(m[1])
	}
	if m := clarificationLineRe.FindStringSubmatch(text); len(m) == 2 {
		out.NeedsClarification = isAffirmative(m[1])
	}
	if m := reasoningRe.FindStringSubmatch(text); len(m) == 2 {
		out.Reasoning = strings.TrimSpace(m[1])
	}
	return out
}

func isAffirmative(s string) bool {
	return strings.EqualFold(s, "yes") || strings.EqualFold(s, "true")
}
