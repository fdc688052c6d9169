// Package plan defines the capability-invocation plan the model proposes
// before producing its final output, and the hard safety rules every plan
// must satisfy before a single step executes.
package plan

import (
	"fmt"

	"github.com/hupe1980/postpilot/capability"
)

// MaxSteps is the hard cap on plan length.
const MaxSteps = 3

// Step is one planned capability invocation.
type Step struct {
	Capability string            `json:"tool" description:"Tool name from available tools"`
	Params     map[string]string `json:"params" description:"Parameters for the tool"`
}

// Plan is the ordered list of steps the model proposes, with its reasoning.
type Plan struct {
	Reasoning string `json:"reasoning"`
	Steps     []Step `json:"steps"`
}

// Validation error codes, machine-readable.
const (
	CodeTooLong            = "PLAN_TOO_LONG"
	CodeUnknownCapability  = "UNKNOWN_CAPABILITY"
	CodeMultipleMediaSteps = "MULTIPLE_MEDIA_STEPS"
	CodeMediaStepNotLast   = "MEDIA_STEP_NOT_LAST"
)

// ValidationError reports the first rule a plan violates. Validation errors
// are fatal to the run; a violating plan is abandoned, never repaired.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plan validation [%s]: %s", e.Code, e.Message)
}

// Validate enforces ordering and cardinality rules against the registry:
// at most MaxSteps steps, only registered capabilities, the media capability
// at most once and only as the final step. It is side-effect-free and
// deterministic: the length check runs first, then a single left-to-right
// scan reports the first violation encountered.
func Validate(p Plan, reg *capability.Registry) error {
	if len(p.Steps) > MaxSteps {
		return &ValidationError{
			Code:    CodeTooLong,
			Message: fmt.Sprintf("plan too long: %d steps (max %d)", len(p.Steps), MaxSteps),
		}
	}

	mediaIdx := -1
	for i, step := range p.Steps {
		if !reg.Has(step.Capability) {
			return &ValidationError{
				Code:    CodeUnknownCapability,
				Message: fmt.Sprintf("unknown tool: %q", step.Capability),
			}
		}
		if step.Capability != capability.GenerateImageName {
			continue
		}
		if mediaIdx >= 0 {
			return &ValidationError{
				Code:    CodeMultipleMediaSteps,
				Message: fmt.Sprintf("multiple %s calls not allowed", capability.GenerateImageName),
			}
		}
		mediaIdx = i
	}
	// Position is checked after the scan so that a duplicate media step is
	// always reported as such, even when the first occurrence is not last.
	if mediaIdx >= 0 && mediaIdx != len(p.Steps)-1 {
		return &ValidationError{
			Code:    CodeMediaStepNotLast,
			Message: fmt.Sprintf("%s must be the last step in the plan", capability.GenerateImageName),
		}
	}
	return nil
}
