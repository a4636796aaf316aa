package telegram

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/concierge/pkg/channels"
)

func (c *Channel) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil
	}

	c.mu.Lock()
	api, dispatch := c.api, c.dispatch
	c.mu.Unlock()
	if api == nil {
		return nil
	}

	reply, ok := c.reply(ctx, api.Self.UserName, dispatch, msg)
	if !ok {
		return nil
	}
	return sendReply(api, msg, reply)
}

// reply computes the response to msg. ok is false when the bot should stay
// silent.
func (c *Channel) reply(ctx context.Context, botName string, dispatch channels.Dispatch, msg *tgbotapi.Message) (string, bool) {
	chatID := msg.Chat.ID
	if len(c.allowed) > 0 && !c.allowed[chatID] {
		c.logger.Debug().Int64("chat_id", chatID).Msg("Ignoring message from chat outside allow list")
		return "", false
	}

	isGroup := msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()
	text := msg.Text

	if msg.IsCommand() {
		if isGroup && !addressedCommand(msg, botName) {
			return "", false
		}
		switch msg.Command() {
		case "start", "help":
			return c.cfg.Greeting, true
		case "ask":
			text = msg.CommandArguments()
		default:
			return fmt.Sprintf("Unknown command: /%s", msg.Command()), true
		}
	} else if isGroup {
		if !isMentioned(msg, botName) && !isReplyToBot(msg, botName) {
			return "", false
		}
		text = stripMention(text, botName)
	}

	if strings.TrimSpace(text) == "" {
		if msg.IsCommand() {
			return "Usage: /ask <question>", true
		}
		return "", false
	}

	sessionID := SessionID(chatID)
	c.logger.Debug().
		Int64("chat_id", chatID).
		Bool("is_group", isGroup).
		Msg("Message received")

	res, err := dispatch(ctx, channels.InboundMessage{Channel: Name, SessionID: sessionID, Text: text})
	if err != nil {
		c.logger.Error().Err(err).Str("session_id", sessionID).Msg("Dispatch failed")
	} else {
		c.logger.Debug().Str("session_id", sessionID).Str("outcome", res.Outcome.String()).Msg("Turn complete")
	}
	return channels.ReplyText(res, err), true
}

func sendReply(api *tgbotapi.BotAPI, msg *tgbotapi.Message, text string) error {
	if runes := []rune(text); len(runes) > messageLimit {
		text = string(runes[:messageLimit-1]) + "…"
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID

	if _, err := api.Send(out); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// isMentioned reports whether msg mentions @botName. Entity offsets count
// UTF-16 code units.
func isMentioned(msg *tgbotapi.Message, botName string) bool {
	if botName == "" {
		return false
	}
	units := utf16.Encode([]rune(msg.Text))
	for _, entity := range msg.Entities {
		if entity.Type != "mention" {
			continue
		}
		if entity.Offset < 0 || entity.Offset+entity.Length > len(units) {
			continue
		}
		mention := string(utf16.Decode(units[entity.Offset : entity.Offset+entity.Length]))
		if strings.EqualFold(mention, "@"+botName) {
			return true
		}
	}
	return false
}

func isReplyToBot(msg *tgbotapi.Message, botName string) bool {
	r := msg.ReplyToMessage
	return r != nil && r.From != nil && r.From.IsBot && strings.EqualFold(r.From.UserName, botName)
}

// addressedCommand accepts "/cmd" and "/cmd@botName" but not commands for
// another bot.
func addressedCommand(msg *tgbotapi.Message, botName string) bool {
	full := msg.CommandWithAt()
	at := strings.IndexByte(full, '@')
	return at < 0 || strings.EqualFold(full[at+1:], botName)
}

func stripMention(text, botName string) string {
	if botName == "" {
		return strings.TrimSpace(text)
	}
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		if !strings.EqualFold(f, "@"+botName) {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}
