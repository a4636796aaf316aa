package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/concierge/pkg/channels"
	"github.com/harun/concierge/pkg/conversation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const botName = "concierge_bot"

type recorder struct {
	mu   sync.Mutex
	msgs []channels.InboundMessage
}

func (r *recorder) dispatch(_ context.Context, msg channels.InboundMessage) (conversation.Result, error) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	if msg.Text == "break" {
		return conversation.Result{}, errors.New("save session: disk full")
	}
	return conversation.Result{Text: "answer to " + msg.Text, Outcome: conversation.OutcomeAnswered}, nil
}

func (r *recorder) received() []channels.InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]channels.InboundMessage(nil), r.msgs...)
}

func privateMessage(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 10,
		Chat:      &tgbotapi.Chat{ID: 55, Type: "private"},
		From:      &tgbotapi.User{ID: 7, FirstName: "Ada"},
		Text:      text,
		Entities:  commandEntities(text),
	}
}

func groupMessage(text string) *tgbotapi.Message {
	msg := privateMessage(text)
	msg.Chat = &tgbotapi.Chat{ID: -100, Type: "supergroup"}
	if i := strings.Index(text, "@"+botName); i >= 0 && !strings.HasPrefix(text, "/") {
		msg.Entities = append(msg.Entities, tgbotapi.MessageEntity{Type: "mention", Offset: len([]rune(text[:i])), Length: len(botName) + 1})
	}
	return msg
}

func commandEntities(text string) []tgbotapi.MessageEntity {
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	end := strings.IndexByte(text, ' ')
	if end < 0 {
		end = len(text)
	}
	return []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: end}}
}

func newChannel(t *testing.T, cfg Config) *Channel {
	t.Helper()
	if cfg.BotToken == "" {
		cfg.BotToken = "123:abc"
	}
	cfg.Logger = zerolog.Nop()
	ch, err := New(cfg)
	require.NoError(t, err)
	return ch
}

func TestReply(t *testing.T) {
	ch := newChannel(t, Config{Greeting: "Welcome to DemoHacks!"})

	replyTo := func(msg *tgbotapi.Message) *tgbotapi.Message {
		msg.ReplyToMessage = &tgbotapi.Message{From: &tgbotapi.User{IsBot: true, UserName: botName}}
		return msg
	}

	tests := []struct {
		name     string
		msg      *tgbotapi.Message
		want     string
		wantOK   bool
		wantText string
	}{
		{"private text", privateMessage("When is lunch?"), "answer to When is lunch?", true, "When is lunch?"},
		{"start command", privateMessage("/start"), "Welcome to DemoHacks!", true, ""},
		{"ask command", privateMessage("/ask where is parking"), "answer to where is parking", true, "where is parking"},
		{"ask without question", privateMessage("/ask"), "Usage: /ask <question>", true, ""},
		{"unknown command", privateMessage("/reset"), "Unknown command: /reset", true, ""},
		{"group without mention", groupMessage("anyone know the wifi?"), "", false, ""},
		{"group mention", groupMessage("@" + botName + " what is the wifi?"), "answer to what is the wifi?", true, "what is the wifi?"},
		{"group reply to bot", replyTo(groupMessage("and the password?")), "answer to and the password?", true, "and the password?"},
		{"group command for other bot", groupMessage("/help@other_bot"), "", false, ""},
		{"group command for us", groupMessage("/help@" + botName), "Welcome to DemoHacks!", true, ""},
		{"engine failure", privateMessage("break"), conversation.FallbackText, true, "break"},
		{"blank text", privateMessage("   "), "", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			got, ok := ch.reply(context.Background(), botName, rec.dispatch, tt.msg)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)

			msgs := rec.received()
			if tt.wantText == "" {
				assert.Empty(t, msgs)
				return
			}
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.wantText, msgs[0].Text)
			assert.Equal(t, Name, msgs[0].Channel)
			assert.Equal(t, SessionID(tt.msg.Chat.ID), msgs[0].SessionID)
		})
	}
}

func TestReplyAllowList(t *testing.T) {
	ch := newChannel(t, Config{AllowedChatIDs: []int64{1}})
	rec := &recorder{}

	_, ok := ch.reply(context.Background(), botName, rec.dispatch, privateMessage("hi"))
	assert.False(t, ok)
	assert.Empty(t, rec.received())
}

func TestSessionID(t *testing.T) {
	assert.Equal(t, "telegram:55", SessionID(55))
	assert.Equal(t, "telegram:-100123", SessionID(-100123))
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

type fakeBotAPI struct {
	server  *httptest.Server
	served  atomic.Bool
	mu      sync.Mutex
	replies []string
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Concierge","username":"`+botName+`"}}`)
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			if f.served.CompareAndSwap(false, true) {
				_, _ = io.WriteString(w, `{"ok":true,"result":[{"update_id":1,"message":{"message_id":10,"date":0,`+
					`"chat":{"id":55,"type":"private"},"from":{"id":7,"is_bot":false,"first_name":"Ada"},"text":"When is lunch?"}}]}`)
				return
			}
			time.Sleep(20 * time.Millisecond)
			_, _ = io.WriteString(w, `{"ok":true,"result":[]}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			_ = r.ParseForm()
			f.mu.Lock()
			f.replies = append(f.replies, r.FormValue("text"))
			f.mu.Unlock()
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":11,"date":0,"chat":{"id":55,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBotAPI) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replies...)
}

func TestStartStop(t *testing.T) {
	api := newFakeBotAPI(t)
	ch := newChannel(t, Config{APIEndpoint: api.server.URL + "/bot%s/%s", PollTimeout: 1})
	rec := &recorder{}

	require.Error(t, ch.Start(context.Background(), nil))
	require.NoError(t, ch.Start(context.Background(), rec.dispatch))
	require.Error(t, ch.Start(context.Background(), rec.dispatch))

	require.Eventually(t, func() bool {
		return len(api.sent()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "answer to When is lunch?", api.sent()[0])

	msgs := rec.received()
	require.Len(t, msgs, 1)
	assert.Equal(t, "telegram:55", msgs[0].SessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ch.Stop(ctx))
	require.NoError(t, ch.Stop(ctx))
}
