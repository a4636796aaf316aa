// Package escalation delivers confirmed escalations to human organizers.
//
// Senders implement conversation.Sender. Each Send is a single delivery
// attempt; retries are driven by the participant confirming again.
package escalation
