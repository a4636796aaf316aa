// Package terminal is a line-oriented REPL adapter over an io.Reader and an
// io.Writer.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/harun/concierge/pkg/channels"
	"github.com/harun/concierge/pkg/conversation"
	"github.com/rs/zerolog"
)

const (
	Name             = "terminal"
	DefaultSessionID = "local"
	defaultPrompt    = "> "
)

var quitWords = map[string]bool{"quit": true, "exit": true, "q": true}

// Config configures the terminal adapter.
type Config struct {
	In        io.Reader
	Out       io.Writer
	SessionID string
	// Greeting is printed once before the first prompt. Empty prints nothing.
	Greeting string
	Prompt   string
	Logger   zerolog.Logger
}

// Channel reads one message per line and prints the engine's reply.
type Channel struct {
	in        io.Reader
	out       io.Writer
	sessionID string
	greeting  string
	prompt    string
	logger    zerolog.Logger

	promptStyle    lipgloss.Style
	answerStyle    lipgloss.Style
	offerStyle     lipgloss.Style
	escalatedStyle lipgloss.Style
	errorStyle     lipgloss.Style

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New creates a terminal adapter. Colors are only emitted when Out is a
// terminal.
func New(cfg Config) (*Channel, error) {
	if cfg.In == nil || cfg.Out == nil {
		return nil, fmt.Errorf("terminal: input and output are required")
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		cfg.SessionID = DefaultSessionID
	}
	if cfg.Prompt == "" {
		cfg.Prompt = defaultPrompt
	}

	r := lipgloss.NewRenderer(cfg.Out)
	return &Channel{
		in:             cfg.In,
		out:            cfg.Out,
		sessionID:      strings.TrimSpace(cfg.SessionID),
		greeting:       cfg.Greeting,
		prompt:         cfg.Prompt,
		logger:         cfg.Logger.With().Str("component", "terminal").Logger(),
		promptStyle:    r.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		answerStyle:    r.NewStyle(),
		offerStyle:     r.NewStyle().Foreground(lipgloss.Color("11")),
		escalatedStyle: r.NewStyle().Foreground(lipgloss.Color("10")),
		errorStyle:     r.NewStyle().Foreground(lipgloss.Color("9")),
	}, nil
}

func (c *Channel) Name() string { return Name }

// Start runs the REPL in the background. Done is closed when it ends.
func (c *Channel) Start(ctx context.Context, dispatch channels.Dispatch) error {
	if dispatch == nil {
		return fmt.Errorf("dispatch function is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return fmt.Errorf("terminal: already started")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go func() {
		err := c.Run(ctx, dispatch)
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	}()
	return nil
}

// Done is closed when a started REPL returns. It is nil before Start.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the REPL's error once Done is closed.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Stop cancels a started REPL. A read blocked on the input is not
// interrupted; the loop exits at the next line.
func (c *Channel) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Run reads lines until EOF, a quit word, or ctx is done.
func (c *Channel) Run(ctx context.Context, dispatch channels.Dispatch) error {
	if c.greeting != "" {
		fmt.Fprintln(c.out, c.greeting)
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(c.out, c.promptStyle.Render(c.prompt))

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(c.out)
			select {
			case err := <-readErr:
				return err
			default:
				return nil
			}
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if quitWords[strings.ToLower(text)] {
			return nil
		}

		res, err := dispatch(ctx, channels.InboundMessage{Channel: Name, SessionID: c.sessionID, Text: text})
		if err != nil {
			c.logger.Error().Err(err).Msg("Dispatch failed")
		} else {
			c.logger.Debug().Str("outcome", res.Outcome.String()).Msg("Turn complete")
		}
		fmt.Fprintln(c.out, c.render(res, err))
	}
}

func (c *Channel) render(res conversation.Result, err error) string {
	text := channels.ReplyText(res, err)
	if err != nil {
		return c.errorStyle.Render(text)
	}
	switch res.Outcome {
	case conversation.OutcomeCannotAnswer:
		return c.offerStyle.Render(text)
	case conversation.OutcomeEscalated:
		return c.escalatedStyle.Render(text)
	default:
		return c.answerStyle.Render(text)
	}
}
