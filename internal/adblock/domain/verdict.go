package domain

// Reason records which step of the decision pipeline produced a verdict.
type Reason string

const (
	ReasonNone      Reason = ""          // allowed without matching anything
	ReasonInactive  Reason = "inactive"  // engine not ready or not enabled
	ReasonInvalid   Reason = "invalid"   // blank URL or nil request
	ReasonHeuristic Reason = "heuristic" // role-specific lexical short-circuit
	ReasonRule      Reason = "rule"      // rule engine match
	ReasonGated     Reason = "gated"     // main-document rule match suppressed by the malice gate
	ReasonFailOpen  Reason = "fail_open" // internal error, allowed
)

// Verdict is the per-request outcome. It is derived fresh for every request
// and never cached.
type Verdict struct {
	Block  bool
	Role   Role
	Reason Reason
}

// IsBlocked is a convenience accessor.
func (v Verdict) IsBlocked() bool { return v.Block }

// Allow returns a not-blocked verdict with the given reason.
func Allow(role Role, reason Reason) Verdict {
	return Verdict{Block: false, Role: role, Reason: reason}
}

// Block returns a blocked verdict with the given reason.
func Block(role Role, reason Reason) Verdict {
	return Verdict{Block: true, Role: role, Reason: reason}
}
