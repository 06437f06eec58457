package domain

// RuleEngine is the authoritative matcher behind the decision pipeline. The
// pipeline only relies on this contract; matching semantics belong to the
// implementation.
//
//   - Init is the one-time bootstrap; a non-nil error means the engine is unusable.
//   - FilterURL answers whether the raw URL matches a blocking rule.
//   - LoadRules appends filter list text; failures are non-fatal to callers.
//   - ClearRules drops every loaded rule.
//   - Shutdown releases engine resources.
type RuleEngine interface {
	Init() error
	FilterURL(url string) bool
	LoadRules(content string) error
	ClearRules() error
	Shutdown() error
}

// RuleLoader is the subset of RuleEngine the filter cache needs.
type RuleLoader interface {
	LoadRules(content string) error
}

// RuleClearer is the subset of RuleEngine the update orchestrator needs.
type RuleClearer interface {
	ClearRules() error
}
