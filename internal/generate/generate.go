// Package generate produces capsule text from prompts, preferring a local
// inference backend and falling back to a remote API when the local side is
// unavailable or failing.
package generate

import "context"

// Role selects the system prompt and, for the remote backend, the model.
type Role string

const (
	RoleWriting   Role = "writing"
	RoleFactCheck Role = "fact_check"
	RoleExpander  Role = "expander"
)

// ParseRole maps a role tag to a known role. Unrecognized tags fall back to
// writing behavior rather than erroring, so callers never need to validate.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleWriting, RoleFactCheck, RoleExpander:
		return Role(s)
	default:
		return RoleWriting
	}
}

var rolePrompts = map[Role]string{
	RoleWriting:   "You are a concise, insightful writing assistant. Create clear, engaging content.",
	RoleFactCheck: "You are a careful fact-checking assistant. Verify claims and note uncertainties.",
	RoleExpander:  "You are a creative assistant who helps structure and expand ideas clearly.",
}

// SystemPrompt returns the default system prompt for the role.
func (r Role) SystemPrompt() string {
	if p, ok := rolePrompts[r]; ok {
		return p
	}
	return rolePrompts[RoleWriting]
}

// Request describes one generation call. Immutable once issued.
type Request struct {
	Prompt       string
	Role         Role
	Temperature  float64
	SystemPrompt string // empty uses the role default
	MaxRetries   int    // additional attempts per backend; total attempts = MaxRetries+1
}

// systemPrompt resolves the effective system prompt.
func (r Request) systemPrompt() string {
	if r.SystemPrompt != "" {
		return r.SystemPrompt
	}
	return ParseRole(string(r.Role)).SystemPrompt()
}

// temperature clamps into the samplable range.
func (r Request) temperature() float64 {
	switch {
	case r.Temperature < 0:
		return 0
	case r.Temperature > 2:
		return 2
	default:
		return r.Temperature
	}
}

// TextGenerator is the single capability both backends and the Hybrid expose.
type TextGenerator interface {
	Generate(ctx context.Context, req Request) (string, error)
}
