package models

import "time"

// ParameterProperty describes one property of a FunctionSchema's parameter
// object, in the JSON-Schema-shaped subset the synthesizer and local
// validator understand (see internal/paramsynth).
type ParameterProperty struct {
	Type        string   `json:"type"` // text, int, float, bool, sequence, mapping
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// ParameterSchema is a FunctionSchema's parameter definition: a JSON-Schema
// shaped mapping of property name to ParameterProperty plus the list of
// required property names.
type ParameterSchema struct {
	Properties map[string]ParameterProperty `json:"properties"`
	Required   []string                     `json:"required,omitempty"`
}

// FunctionSchema describes one externally callable HTTP function known to
// the registry. It is immutable per version: mutations create a new
// version rather than rewriting history, though the store only retains the
// current row per function_id.
type FunctionSchema struct {
	FunctionID     string          `json:"function_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Category       string          `json:"category"`
	Endpoint       string          `json:"endpoint"`
	HTTPMethod     string          `json:"http_method"`
	AuthRequired   bool            `json:"auth_required"`
	Parameters     ParameterSchema `json:"parameters"`
	ResponseSchema map[string]any  `json:"response_schema,omitempty"`
	CacheTTLSeconds int            `json:"cache_ttl_seconds"`
	TimeoutSeconds  int            `json:"timeout_seconds"`
	Tags            []string       `json:"tags,omitempty"`
	Deprecated      bool           `json:"deprecated"`
	Version         int            `json:"version"`

	// Usage counters, mutated exclusively by Registry.RecordUsage.
	CallCount         int64     `json:"call_count"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	SuccessRate       float64   `json:"success_rate"`
	LastCalledAt      time.Time `json:"last_called_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ParameterNames returns the property names of the function's parameter
// schema in map-iteration order; callers that need a stable order (e.g.
// embedding input construction) should sort the result.
func (f *FunctionSchema) ParameterNames() []string {
	if len(f.Parameters.Properties) == 0 {
		return nil
	}
	names := make([]string, 0, len(f.Parameters.Properties))
	for name := range f.Parameters.Properties {
		names = append(names, name)
	}
	return names
}

// FunctionFilter narrows Registry.List results.
type FunctionFilter struct {
	Category   string
	Tags       []string
	Deprecated *bool
}

// Page bounds a List/Search call.
type Page struct {
	Limit  int
	Offset int
}

// FunctionStatistics summarizes the registry's current holdings.
type FunctionStatistics struct {
	TotalFunctions      int            `json:"total_functions"`
	DeprecatedFunctions int            `json:"deprecated_functions"`
	ByCategory          map[string]int `json:"by_category"`
	TotalCalls          int64          `json:"total_calls"`
}

// BulkImportResult reports per-item outcomes of Registry.BulkImport.
type BulkImportResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"` // function_id -> error message
}
