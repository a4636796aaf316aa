package conversation

// FallbackText is what adapters show when the engine itself returns an error.
const FallbackText = "Unable to answer your question at this time"

// Texts are the fixed user-facing strings the engine produces.
type Texts struct {
	// Escalated confirms a successful delivery.
	Escalated string
	// DeliveryFailed is shown when the sender fails. It must read differently
	// from Offer so the user knows the team was not reached.
	DeliveryFailed string
	// CannotAnswer explains a failed answer step when the step gave no reason.
	CannotAnswer string
	// Offer is appended to every cannot-answer explanation.
	Offer string
}

// DefaultTexts returns the stock English texts.
func DefaultTexts() Texts {
	return Texts{
		Escalated:      "I've escalated this; someone will follow up.",
		DeliveryFailed: "I couldn't reach the organizer team just now. Please reply \"yes\" again to retry the escalation.",
		CannotAnswer:   "I couldn't find a confident answer to your question.",
		Offer:          "Would you like me to escalate this to a human organizer who can help you directly?",
	}
}

func (t Texts) withDefaults() Texts {
	d := DefaultTexts()
	if t.Escalated == "" {
		t.Escalated = d.Escalated
	}
	if t.DeliveryFailed == "" {
		t.DeliveryFailed = d.DeliveryFailed
	}
	if t.CannotAnswer == "" {
		t.CannotAnswer = d.CannotAnswer
	}
	if t.Offer == "" {
		t.Offer = d.Offer
	}
	return t
}
