// Package conversation assembles the ordered exchange fed to the language
// model at each stage of an engine run. Builders are pure functions of their
// inputs: the same arguments always yield byte-identical turn sequences,
// which keeps runs reproducible in tests. Turns are append-only within one
// run and are never edited or reordered.
package conversation

import "fmt"

// Role identifies who produced a turn.
type Role string

const (
	// RoleSystem frames the exchange: persona, capability enumeration, task rules.
	RoleSystem Role = "system"
	// RoleUser carries task requests, capability results and final-text instructions.
	RoleUser Role = "user"
	// RoleAssistant carries the model's own responses (plans, artifacts).
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the exchange. The full ordered turn slice is replayed
// to the model on every request within the same run.
type Turn struct {
	Role    Role
	Content string
}

// System, User and Assistant are small constructors keeping call sites terse.
func System(content string) Turn    { return Turn{Role: RoleSystem, Content: content} }
func User(content string) Turn      { return Turn{Role: RoleUser, Content: content} }
func Assistant(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// BuildPostConversation assembles the opening exchange for a scheduled post:
// one framing turn (persona + capability guide) and one user turn carrying
// the recent-post history used for dedup.
func BuildPostConversation(persona, capabilityGuide, postHistory string) []Turn {
	return []Turn{
		System(persona + "\n\n" + capabilityGuide),
		User(fmt.Sprintf(`Create a post. Here are your previous posts (don't repeat):

%s

Now create your plan. What tools do you need (if any)?`, postHistory)),
	}
}

// BuildReplyConversation assembles the opening exchange for replying to one
// mention: the framing turn plus a user turn carrying the mention, why it was
// selected, the suggested approach, and prior conversation with the author.
func BuildReplyConversation(persona, capabilityGuide, authorHandle, mentionText, reasoning, approach, authorHistory string) []Turn {
	return []Turn{
		System(persona + "\n\n" + capabilityGuide),
		User(fmt.Sprintf(`@%s mentioned you: %s

## Why this mention was selected:
%s

## Suggested approach:
%s

## Your conversation history with @%s:
%s

Now create your plan. What tools do you need (if any)?`,
			authorHandle, mentionText, reasoning, approach, authorHandle, authorHistory)),
	}
}
