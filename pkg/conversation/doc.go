// Package conversation holds the per-turn decision logic of the concierge.
//
// An Engine turns one inbound message plus the prior Session into an answer,
// an offer to escalate, or a performed escalation. The session state machine:
//
//	NONE          -> ANSWERED | CANNOT_ANSWER
//	ANSWERED      -> ANSWERED | CANNOT_ANSWER
//	CANNOT_ANSWER -> ANSWERED | CANNOT_ANSWER | ESCALATED
//	ESCALATED     -> ANSWERED | CANNOT_ANSWER
//
// Escalation happens only from CANNOT_ANSWER and only when the next message is
// a confirmation. A second confirmation finds ESCALATED and is answered as a
// new question, so one offer yields at most one delivery.
//
// Invariants:
//   - Session.PendingQuestion is non-empty iff Session.LastOutcome == OutcomeCannotAnswer.
//   - Turns for one session never overlap; Engine.Process runs load/decide/save
//     inside the session's lane.
//   - Every Result carries non-empty Text.
//
// The engine owns no configuration. Its collaborators (answer step, sender,
// store) are built elsewhere and passed in.
package conversation
