package escalation

import (
	"fmt"
	"strings"

	"github.com/harun/concierge/pkg/conversation"
)

// DeliveryError reports a failed delivery. StatusCode is zero when no HTTP
// response was received.
type DeliveryError struct {
	Channel    string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s delivery failed (status %d): %v", e.Channel, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s delivery failed (status %d)", e.Channel, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
	}
	return e.Channel + " delivery failed"
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// FormatMessage renders the organizer notification for req.
func FormatMessage(prefix string, req conversation.EscalationRequest) string {
	var b strings.Builder
	if p := strings.TrimSpace(prefix); p != "" {
		b.WriteString(p)
		b.WriteString(" ")
	}
	b.WriteString("A participant asked for help from an organizer.")
	fmt.Fprintf(&b, "\nQuestion: %s", oneLine(req.OriginalQuestion))
	if c := oneLine(req.ConfirmationMessage); c != "" {
		fmt.Fprintf(&b, "\nConfirmation: %s", c)
	}
	if req.SessionID != "" {
		fmt.Fprintf(&b, "\nSession: %s", req.SessionID)
	}
	if req.Reference != "" {
		fmt.Fprintf(&b, "\nReference: %s", req.Reference)
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
