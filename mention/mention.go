// Package mention implements the reply sub-pipeline: ranking a batch of
// inbound mentions with one structured model call, then driving the
// plan-execute-finalize loop once per selected mention, publishing and
// persisting each reply before the next begins.
package mention

// Candidate is one inbound mention from the platform. The platform-assigned
// id is opaque and doubles as the idempotency key against the persisted
// mention history.
type Candidate struct {
	ID           string
	AuthorHandle string
	Text         string
}

// Selection is the model's verdict that one candidate is worth a reply.
// Lower Priority means reply sooner; a batch is processed in ascending
// priority order.
type Selection struct {
	MentionID         string `json:"mention_id" description:"The id of the mention to reply to, exactly as listed"`
	Priority          int    `json:"priority" description:"Processing priority, lower replies first"`
	Reasoning         string `json:"reasoning" description:"Brief reason why this mention deserves a reply"`
	SuggestedApproach string `json:"suggested_approach" description:"How to approach the reply"`
}
