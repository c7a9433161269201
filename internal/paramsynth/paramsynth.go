// Package paramsynth implements four layered parameter-synthesis
// strategies: template, regex extraction, context reuse, and LLM
// generation, attempted in order against a function's parameter schema.
// The first to pass local validation wins.
package paramsynth

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/haasonsaas/conduit/internal/llmprovider"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Result is what Synthesize returns.
type Result struct {
	OK         bool
	Parameters map[string]any
	Err        error
	Strategy   models.SynthesisStrategy
}

// Synthesizer resolves a function call's parameters via the layered
// strategy cascade.
type Synthesizer struct {
	llm llmprovider.Provider
}

// New builds a Synthesizer.
func New(llm llmprovider.Provider) *Synthesizer {
	return &Synthesizer{llm: llm}
}

// templateRule is one fixed (patterns, parameters) entry of the template
// strategy: if any pattern matches the lowercased query verbatim, its
// parameters are returned as-is (plus user_id when present in context).
type templateRule struct {
	patterns   []*regexp.Regexp
	parameters map[string]any
}

// templateRules is authored for common phrasings across the function
// families the rule tier's category table also covers. New rules are
// added here as common query shapes are observed.
var templateRules = []templateRule{
	{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bweather\s+(in|for|at)\s+here\b`),
			regexp.MustCompile(`(?i)\bcurrent\s+location\s+weather\b`),
		},
		parameters: map[string]any{"location": "current"},
	},
}

// extractionRule maps a schema property name (matched by regexp against
// the property name itself) to a regex table over the query text; the
// first matching pattern's canonical value is adopted.
type extractionRule struct {
	propertyName *regexp.Regexp
	values       []struct {
		pattern   *regexp.Regexp
		canonical string
	}
}

var extractionRules = []extractionRule{
	{
		propertyName: regexp.MustCompile(`(?i)region`),
		values: []struct {
			pattern   *regexp.Regexp
			canonical string
		}{
			{regexp.MustCompile(`(?i)\bnorth(ern)?\b`), "North"},
			{regexp.MustCompile(`(?i)\bsouth(ern)?\b`), "South"},
			{regexp.MustCompile(`(?i)\beast(ern)?\b`), "East"},
			{regexp.MustCompile(`(?i)\bwest(ern)?\b`), "West"},
			{regexp.MustCompile(`(?i)\bcentral\b`), "Central"},
		},
	},
	{
		propertyName: regexp.MustCompile(`(?i)(date|time|when)`),
		values: []struct {
			pattern   *regexp.Regexp
			canonical string
		}{
			{regexp.MustCompile(`(?i)\btoday\b`), "today"},
			{regexp.MustCompile(`(?i)\byesterday\b`), "yesterday"},
			{regexp.MustCompile(`(?i)\btomorrow\b`), "tomorrow"},
			{regexp.MustCompile(`(?i)\bthis\s+week\b`), "this_week"},
			{regexp.MustCompile(`(?i)\blast\s+week\b`), "last_week"},
		},
	},
	{
		propertyName: regexp.MustCompile(`(?i)(metric|unit)`),
		values: []struct {
			pattern   *regexp.Regexp
			canonical string
		}{
			{regexp.MustCompile(`(?i)\bcelsius\b`), "celsius"},
			{regexp.MustCompile(`(?i)\bfahrenheit\b`), "fahrenheit"},
			{regexp.MustCompile(`(?i)\bmetric\b`), "metric"},
			{regexp.MustCompile(`(?i)\bimperial\b`), "imperial"},
		},
	},
	{
		propertyName: regexp.MustCompile(`(?i)location`),
		values: []struct {
			pattern   *regexp.Regexp
			canonical string
		}{
			{regexp.MustCompile(`(?i)\bin\s+([A-Z][a-zA-Z\s]+)`), "$1"},
		},
	},
}

// Synthesize runs the four strategies in order, returning the first whose
// output passes Validate against fn.Parameters.
func (s *Synthesizer) Synthesize(ctx context.Context, fn *models.FunctionSchema, query string, callerContext map[string]any, previousResults []map[string]any) Result {
	if params, ok := s.template(query, callerContext); ok {
		if err := Validate(fn.Parameters, params); err == nil {
			return Result{OK: true, Parameters: params, Strategy: models.SynthesisTemplate}
		}
	}

	if params, ok := s.extraction(fn.Parameters, query); ok {
		if err := Validate(fn.Parameters, params); err == nil {
			return Result{OK: true, Parameters: params, Strategy: models.SynthesisExtraction}
		}
	}

	if params, ok := s.contextReuse(fn.Parameters, previousResults); ok {
		if err := Validate(fn.Parameters, params); err == nil {
			return Result{OK: true, Parameters: params, Strategy: models.SynthesisContextReuse}
		}
	}

	params, err := s.llmGeneration(ctx, fn, query, previousResults)
	if err != nil {
		return Result{OK: false, Err: err, Strategy: models.SynthesisLLMGeneration}
	}
	if err := Validate(fn.Parameters, params); err != nil {
		return Result{OK: false, Err: err, Strategy: models.SynthesisLLMGeneration}
	}
	return Result{OK: true, Parameters: params, Strategy: models.SynthesisLLMGeneration}
}

func (s *Synthesizer) template(query string, callerContext map[string]any) (map[string]any, bool) {
	lower := strings.ToLower(query)
	for _, rule := range templateRules {
		for _, pat := range rule.patterns {
			if pat.MatchString(lower) {
				params := make(map[string]any, len(rule.parameters)+1)
				for k, v := range rule.parameters {
					params[k] = v
				}
				if uid, ok := callerContext["user_id"]; ok {
					params["user_id"] = uid
				}
				return params, true
			}
		}
	}
	return nil, false
}

func (s *Synthesizer) extraction(schema models.ParameterSchema, query string) (map[string]any, bool) {
	params := make(map[string]any)
	for propName := range schema.Properties {
		for _, rule := range extractionRules {
			if !rule.propertyName.MatchString(propName) {
				continue
			}
			for _, v := range rule.values {
				if m := v.pattern.FindStringSubmatch(query); m != nil {
					if v.canonical == "$1" && len(m) > 1 {
						params[propName] = strings.TrimSpace(m[1])
					} else {
						params[propName] = v.canonical
					}
					break
				}
			}
			if _, ok := params[propName]; ok {
				break
			}
		}
	}
	for _, required := range schema.Required {
		if _, ok := params[required]; !ok {
			return nil, false
		}
	}
	return params, true
}

// contextReuse walks previousResults in order, adopting the first
// matching key found for each still-missing required parameter.
func (s *Synthesizer) contextReuse(schema models.ParameterSchema, previousResults []map[string]any) (map[string]any, bool) {
	params := make(map[string]any)
	for _, required := range schema.Required {
		for _, result := range previousResults {
			if v, ok := result[required]; ok {
				params[required] = v
				break
			}
		}
		if _, ok := params[required]; !ok {
			return nil, false
		}
	}
	return params, true
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// llmGeneration renders the parameter schema plus the query and the last
// three previous results, and asks the LLM collaborator for a JSON object.
func (s *Synthesizer) llmGeneration(ctx context.Context, fn *models.FunctionSchema, query string, previousResults []map[string]any) (map[string]any, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Function: %s\nParameters:\n", fn.Name)
	for name, prop := range fn.Parameters.Properties {
		required := ""
		for _, r := range fn.Parameters.Required {
			if r == name {
				required = " (required)"
				break
			}
		}
		fmt.Fprintf(&sb, "- %s: %s%s — %s\n", name, prop.Type, required, prop.Description)
	}
	fmt.Fprintf(&sb, "\nQuery: %s\n", query)
	if n := len(previousResults); n > 0 {
		start := 0
		if n > 3 {
			start = n - 3
		}
		fmt.Fprintf(&sb, "\nPrevious results:\n")
		for _, r := range previousResults[start:] {
			b, _ := json.Marshal(r)
			fmt.Fprintf(&sb, "- %s\n", string(b))
		}
	}
	sb.WriteString("\nReturn a single JSON object with the parameter values. No prose.")

	text, err := s.llm.Generate(ctx, sb.String(), 256)
	if err != nil {
		return nil, fmt.Errorf("paramsynth: llm generation: %w", err)
	}

	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return nil, fmt.Errorf("paramsynth: llm generation: no JSON object in response")
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(match), &params); err != nil {
		return nil, fmt.Errorf("paramsynth: llm generation: parse response: %w", err)
	}
	return params, nil
}

// Validate enforces local validation: every required property present,
// each present property's value matching its declared type, any
// minimum/maximum/pattern constraints honored, and no unknown properties.
func Validate(schema models.ParameterSchema, params map[string]any) error {
	for name := range params {
		if _, ok := schema.Properties[name]; !ok {
			return fmt.Errorf("paramsynth: unknown parameter %q", name)
		}
	}
	for _, required := range schema.Required {
		if _, ok := params[required]; !ok {
			return fmt.Errorf("paramsynth: missing required parameter %q", required)
		}
	}
	for name, value := range params {
		prop := schema.Properties[name]
		if err := validateValue(name, prop, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(name string, prop models.ParameterProperty, value any) error {
	if !typeMatches(prop.Type, value) {
		return fmt.Errorf("paramsynth: parameter %q: expected type %q, got %T", name, prop.Type, value)
	}
	if num, ok := asFloat(value); ok {
		if prop.Minimum != nil && num < *prop.Minimum {
			return fmt.Errorf("paramsynth: parameter %q: %v below minimum %v", name, num, *prop.Minimum)
		}
		if prop.Maximum != nil && num > *prop.Maximum {
			return fmt.Errorf("paramsynth: parameter %q: %v above maximum %v", name, num, *prop.Maximum)
		}
	}
	if prop.Pattern != "" {
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("paramsynth: parameter %q: pattern constraint requires a string value", name)
		}
		re, err := regexp.Compile(prop.Pattern)
		if err != nil {
			return fmt.Errorf("paramsynth: parameter %q: invalid pattern %q: %w", name, prop.Pattern, err)
		}
		if !re.MatchString(str) {
			return fmt.Errorf("paramsynth: parameter %q: value %q does not match pattern %q", name, str, prop.Pattern)
		}
	}
	return nil
}

// typeMatches checks value against the domain's alias type names (spec
// §4.5): string↔text, number↔int|float, integer↔int, boolean↔bool,
// array↔sequence, object↔mapping; unknown type aliases are accepted
// unconditionally.
func typeMatches(alias string, value any) bool {
	switch alias {
	case "text", "string":
		_, ok := value.(string)
		return ok
	case "int", "integer":
		switch value.(type) {
		case int, int32, int64:
			return true
		case float64:
			f := value.(float64)
			return f == float64(int64(f))
		case string:
			_, err := strconv.ParseInt(value.(string), 10, 64)
			return err == nil
		}
		return false
	case "float", "number":
		switch value.(type) {
		case float32, float64, int, int32, int64:
			return true
		case string:
			_, err := strconv.ParseFloat(value.(string), 64)
			return err == nil
		}
		return false
	case "bool", "boolean":
		_, ok := value.(bool)
		return ok
	case "sequence", "array":
		switch value.(type) {
		case []any, []string, []int, []float64:
			return true
		}
		return false
	case "mapping", "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
