// Package engine implements the plan-execute-finalize loop at the heart of
// PostPilot: request a capability plan from the model, validate it against
// hard safety rules, execute each step while folding results back into the
// exchange, then request the final text artifact and apply the platform
// length guarantee.
//
// One Run is a single continuous conversation. Capability failures degrade
// a single step (the error is folded into context so the model can adapt);
// transport failures, schema violations and plan-validation violations are
// fatal to the run and surfaced to the caller, which owns any retry policy.
package engine
