package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/harun/concierge/pkg/conversation"
)

// DirectChannel is an adapter for in-process callers such as the one-shot
// ask command. It has no transport of its own.
type DirectChannel struct {
	name string

	mu       sync.RWMutex
	dispatch Dispatch
}

// NewDirectChannel creates a direct channel by name.
func NewDirectChannel(name string) *DirectChannel {
	return &DirectChannel{name: strings.TrimSpace(name)}
}

// Name returns channel name.
func (c *DirectChannel) Name() string {
	return c.name
}

// Start records the dispatcher.
func (c *DirectChannel) Start(_ context.Context, dispatch Dispatch) error {
	if c.name == "" {
		return fmt.Errorf("channel name is required")
	}
	if dispatch == nil {
		return fmt.Errorf("dispatch function is required")
	}
	c.mu.Lock()
	c.dispatch = dispatch
	c.mu.Unlock()
	return nil
}

// Stop detaches the dispatcher.
func (c *DirectChannel) Stop(_ context.Context) error {
	c.mu.Lock()
	c.dispatch = nil
	c.mu.Unlock()
	return nil
}

// Ask sends one message for sessionID through the started channel.
func (c *DirectChannel) Ask(ctx context.Context, sessionID, text string) (conversation.Result, error) {
	c.mu.RLock()
	dispatch := c.dispatch
	c.mu.RUnlock()
	if dispatch == nil {
		return conversation.Result{}, fmt.Errorf("channel %q is not started", c.name)
	}
	return dispatch(ctx, InboundMessage{Channel: c.name, SessionID: sessionID, Text: text})
}
