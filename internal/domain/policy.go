package domain

// PolicyConfig defines an underwriting policy rule. Policies are CEL
// boolean expressions evaluated over the application, its derived
// ratios, and the model output. A triggered policy overrides the
// threshold-derived decision with its Action. With no policies loaded
// the decision is purely threshold-based.
type PolicyConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression that must evaluate to bool
	Expression string `json:"expression"`

	// Action applied when the expression is true: "REJECT" or "APPROVE"
	Action Decision `json:"action"`

	// Reason reported to the caller when the policy triggers
	Reason string `json:"reason"`

	// Priority resolves conflicts between triggered policies (higher wins)
	Priority int `json:"priority"`

	// Whether the policy is active
	Enabled bool `json:"enabled"`
}

// PolicyResult is the outcome of evaluating a single policy.
type PolicyResult struct {
	PolicyID  string   `json:"policyId"`
	Name      string   `json:"name"`
	Triggered bool     `json:"triggered"`
	Action    Decision `json:"action,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Priority  int      `json:"priority"`
	Error     string   `json:"error,omitempty"`
}
