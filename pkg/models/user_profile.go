package models

import "time"

// UserProfile holds a user's persona/preferences for the Context Builder
// to render into system instructions.
type UserProfile struct {
	UserID             string         `json:"user_id"`
	Preferences        map[string]any `json:"preferences,omitempty"` // tone, verbosity, language, ...
	CustomInstructions string         `json:"custom_instructions,omitempty"`

	// APIPermissions is a set of allowed function categories. An empty set
	// means all categories are permitted.
	APIPermissions map[string]struct{} `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasAllPermissions reports whether the profile grants access to every
// category (an empty APIPermissions set).
func (p *UserProfile) HasAllPermissions() bool {
	return len(p.APIPermissions) == 0
}

// Allows reports whether the profile permits calling functions in the
// given category.
func (p *UserProfile) Allows(category string) bool {
	if p.HasAllPermissions() {
		return true
	}
	_, ok := p.APIPermissions[category]
	return ok
}

// PermissionList renders APIPermissions as a string slice for transport.
func (p *UserProfile) PermissionList() []string {
	if len(p.APIPermissions) == 0 {
		return nil
	}
	out := make([]string, 0, len(p.APIPermissions))
	for cat := range p.APIPermissions {
		out = append(out, cat)
	}
	return out
}

// BuiltContext is the Context Builder's output, consumed by the controller
// to seed each run.
type BuiltContext struct {
	Profile            *UserProfile           `json:"profile"`
	History            []ConversationMessage  `json:"history"`
	SystemInstructions string                 `json:"system_instructions"`
	UserID             string                 `json:"user_id"`
	ConversationID     string                 `json:"conversation_id"`
	CurrentQuery       string                 `json:"current_query,omitempty"`
}
