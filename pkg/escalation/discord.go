package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/harun/concierge/internal/tracing"
	"github.com/harun/concierge/pkg/conversation"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	discordContentLimit = 2000
	defaultTimeout      = 10 * time.Second
)

// DiscordConfig configures a DiscordSender.
type DiscordConfig struct {
	WebhookURL string
	// RoleID, when set, is mentioned and is the only mention allowed.
	RoleID        string
	MessagePrefix string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        zerolog.Logger
}

// DiscordSender posts escalations to a Discord channel webhook.
type DiscordSender struct {
	webhookURL string
	roleID     string
	prefix     string
	client     *http.Client
	logger     zerolog.Logger
}

type discordPayload struct {
	Content         string                 `json:"content"`
	AllowedMentions discordAllowedMentions `json:"allowed_mentions"`
}

type discordAllowedMentions struct {
	Roles []string
}

// MarshalJSON keeps an explicit empty parse list, which Discord reads as
// "mention nobody".
func (m discordAllowedMentions) MarshalJSON() ([]byte, error) {
	if len(m.Roles) > 0 {
		return json.Marshal(map[string][]string{"roles": m.Roles})
	}
	return json.Marshal(map[string][]string{"parse": {}})
}

// NewDiscordSender validates cfg and creates a sender.
func NewDiscordSender(cfg DiscordConfig) (*DiscordSender, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.New("discord webhook URL is required")
	}
	u, err := url.Parse(cfg.WebhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New("discord webhook URL must be an absolute http(s) URL")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &DiscordSender{
		webhookURL: cfg.WebhookURL,
		roleID:     cfg.RoleID,
		prefix:     cfg.MessagePrefix,
		client:     client,
		logger:     cfg.Logger.With().Str("component", "escalation").Str("channel", "discord").Logger(),
	}, nil
}

func (d *DiscordSender) payload(req conversation.EscalationRequest) discordPayload {
	content := FormatMessage(d.prefix, req)
	p := discordPayload{}
	if d.roleID != "" {
		content = fmt.Sprintf("<@&%s> %s", d.roleID, content)
		p.AllowedMentions.Roles = []string{d.roleID}
	}
	p.Content = truncate(content, discordContentLimit)
	return p
}

// Send posts one message. 200 and 204 are success; anything else is a
// *DeliveryError.
func (d *DiscordSender) Send(ctx context.Context, req conversation.EscalationRequest) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "escalation.discord")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, d.logger)

	body, err := json.Marshal(d.payload(req))
	if err != nil {
		return &DeliveryError{Channel: "discord", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Channel: "discord", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		derr := &DeliveryError{Channel: "discord", Err: err}
		tracing.Fail(span, derr)
		logger.Warn().Err(err).Msg("Discord escalation failed")
		return derr
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		logger.Info().Int("status", resp.StatusCode).Str("reference", req.Reference).Msg("Discord escalation sent")
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	derr := &DeliveryError{Channel: "discord", StatusCode: resp.StatusCode}
	if len(bytes.TrimSpace(snippet)) > 0 {
		derr.Err = errors.New(string(bytes.TrimSpace(snippet)))
	}
	tracing.Fail(span, derr)
	logger.Warn().Int("status", resp.StatusCode).Msg("Discord escalation returned unexpected status")
	return derr
}
