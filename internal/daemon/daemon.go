package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/harun/concierge/internal/config"
	"github.com/harun/concierge/internal/logger"
	"github.com/harun/concierge/internal/observability"
	"github.com/harun/concierge/internal/tracing"
	"github.com/harun/concierge/pkg/answer"
	"github.com/harun/concierge/pkg/channels"
	"github.com/harun/concierge/pkg/channels/httpapi"
	"github.com/harun/concierge/pkg/channels/telegram"
	"github.com/harun/concierge/pkg/channels/terminal"
	"github.com/harun/concierge/pkg/conversation"
	"github.com/harun/concierge/pkg/escalation"
	"github.com/harun/concierge/pkg/knowledge"
	"github.com/harun/concierge/pkg/llm"
	"github.com/harun/concierge/pkg/store"
	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

const (
	serviceName = "concierge"

	// DirectChannel is the in-process channel used by Ask.
	DirectChannel = "direct"

	stopTimeout = 10 * time.Second
)

// ErrIndexDisabled is returned by Sync when knowledge.index is off.
var ErrIndexDisabled = errors.New("knowledge index is disabled")

// Option customizes a Daemon.
type Option func(*options)

type options struct {
	provider llm.Provider
	sender   conversation.Sender
}

// WithProvider replaces the model profiles with a fixed provider.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithSender replaces the configured escalation senders.
func WithSender(s conversation.Sender) Option {
	return func(o *options) { o.sender = s }
}

// Daemon wires configuration into a running concierge: knowledge, model
// providers, the answer loop, escalation, the session store, the engine and
// its ingress channels.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	store     store.Store
	sweeper   *store.Sweeper
	index     *knowledge.Index
	retriever knowledge.Retriever
	provider  llm.Provider
	engine    *conversation.Engine
	registry  *channels.Registry
	direct    *channels.DirectChannel
	http      *httpapi.Server
	lifecycle *LifecycleManager
	audit     *observability.AuditLogger

	tracingEnabled bool
	closeOnce      sync.Once
	closeErr       error
}

// New builds a daemon from cfg. Nothing listens until Serve.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	observability.EnsureRegistered()

	d := &Daemon{
		config:    cfg,
		logger:    log,
		lifecycle: NewLifecycleManager(cfg.DataDir, log.Component("lifecycle")),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(serviceName, cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Msg("Tracing initialized successfully")
		}
	}

	if err := d.initialize(ctx, o); err != nil {
		_ = d.Close(context.Background())
		return nil, err
	}
	return d, nil
}

func (d *Daemon) initialize(ctx context.Context, o options) error {
	if err := d.initializeAudit(); err != nil {
		return fmt.Errorf("failed to initialize audit log: %w", err)
	}
	if err := d.initializeStore(ctx); err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	if err := d.initializeKnowledge(); err != nil {
		return fmt.Errorf("failed to initialize knowledge: %w", err)
	}

	d.provider = o.provider
	if d.provider == nil {
		provider, err := d.buildProvider(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize model providers: %w", err)
		}
		d.provider = provider
	}

	loop, err := d.buildLoop()
	if err != nil {
		return fmt.Errorf("failed to initialize answer loop: %w", err)
	}

	sender := o.sender
	if sender == nil {
		sender, err = d.buildSender()
		if err != nil {
			return fmt.Errorf("failed to initialize escalation: %w", err)
		}
	}

	d.engine = conversation.NewEngine(loop, sender, d.store,
		conversation.WithHistoryLimit(d.config.Engine.HistoryLimit),
		conversation.WithContextTurns(d.config.Engine.ContextTurns),
		conversation.WithLogger(d.logger.Zerolog()),
	)

	d.registry = channels.NewRegistry(channels.EngineDispatch(d.engine))
	d.direct = channels.NewDirectChannel(DirectChannel)
	if err := d.registry.Register(d.direct); err != nil {
		return err
	}
	return nil
}

func (d *Daemon) initializeAudit() error {
	if d.config.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(d.config.DataDir, 0755); err != nil {
		return err
	}
	if err := observability.InitAuditLogger(filepath.Join(d.config.DataDir, "audit.log")); err != nil {
		return err
	}
	d.audit = observability.GetAuditLogger()
	return nil
}

func (d *Daemon) initializeStore(ctx context.Context) error {
	sc := d.config.Store
	s, err := store.Open(ctx, store.Config{
		Backend:       sc.Backend,
		Dir:           sc.Dir,
		Path:          sc.Path,
		DSN:           sc.DSN,
		Capacity:      sc.Capacity,
		Retention:     sc.Retention,
		SweepSchedule: sc.SweepSchedule,
	})
	if err != nil {
		return err
	}
	d.store = s

	if sc.Retention <= 0 {
		return nil
	}
	pruner, ok := s.(store.Pruner)
	if !ok {
		d.logger.Warn().Str("backend", sc.Backend).Msg("Session store cannot prune; retention ignored")
		return nil
	}
	sweeper, err := store.NewSweeper(pruner, sc.Retention, sc.SweepSchedule, d.logger.Zerolog())
	if err != nil {
		return err
	}
	d.sweeper = sweeper
	return nil
}

func (d *Daemon) initializeKnowledge() error {
	kc := d.config.Knowledge
	if !kc.Index {
		static, err := knowledge.LoadStatic(kc.Path, kc.Limit)
		if err != nil {
			return err
		}
		d.retriever = static
		d.logger.Info().Str("path", kc.Path).Int("passages", static.Len()).Msg("Knowledge loaded into memory")
		return nil
	}

	var embedder knowledge.Embedder
	if kc.Embeddings.Enabled {
		key := kc.Embeddings.APIKey
		if key == "" {
			key = d.openAIKey()
		}
		if key == "" {
			return fmt.Errorf("embeddings are enabled but no OpenAI API key is configured")
		}
		embedder = knowledge.NewOpenAIEmbedder(key, kc.Embeddings.Model, kc.Embeddings.BaseURL)
	}

	ix, err := knowledge.Open(knowledge.Config{
		Path:     kc.Path,
		DBPath:   kc.DBPath,
		Embedder: embedder,
		Limit:    kc.Limit,
		Watch:    kc.Watch,
		Logger:   d.logger.Zerolog(),
	})
	if err != nil {
		return err
	}
	d.index = ix
	d.retriever = ix
	return nil
}

func (d *Daemon) openAIKey() string {
	for _, m := range d.config.Models {
		if strings.EqualFold(m.Provider, "openai") && m.APIKey != "" {
			return m.APIKey
		}
	}
	return ""
}

func (d *Daemon) buildProvider(ctx context.Context) (llm.Provider, error) {
	profiles := make([]llm.Profile, 0, len(d.config.Models))
	for _, m := range d.config.Models {
		profiles = append(profiles, llm.Profile{
			ID:       m.ID,
			Provider: m.Provider,
			APIKey:   m.APIKey,
			Model:    m.Model,
			BaseURL:  m.BaseURL,
			Priority: m.Priority,
		})
	}

	return llm.FromProfiles(ctx, profiles,
		llm.WithCooldown(time.Duration(d.config.Answer.CooldownSeconds)*time.Second),
		llm.WithFailoverLogger(d.logger.Zerolog()),
	)
}

func (d *Daemon) buildLoop() (*answer.Loop, error) {
	ac := d.config.Answer
	opts := []answer.Option{
		answer.WithMaxIterations(ac.MaxIterations),
		answer.WithMaxPassages(ac.MaxPassages),
		answer.WithRetryOnce(ac.RetryOnce),
		answer.WithTemperature(ac.Temperature),
		answer.WithMaxTokens(ac.MaxTokens),
		answer.WithScope(ac.Scope),
		answer.WithAgentName(ac.AgentName),
		answer.WithLogger(d.logger.Zerolog()),
	}
	if ac.Timezone != "" {
		loc, err := time.LoadLocation(ac.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", ac.Timezone, err)
		}
		opts = append(opts, answer.WithLocation(loc))
	}
	return answer.NewLoop(d.provider, d.retriever, opts...)
}

// buildSender fans out to every configured organizer channel. The log sender
// is used only when nothing else is configured, since it always succeeds.
func (d *Daemon) buildSender() (conversation.Sender, error) {
	ec := d.config.Escalation
	var senders []conversation.Sender

	if ec.Discord.WebhookURL != "" {
		s, err := escalation.NewDiscordSender(escalation.DiscordConfig{
			WebhookURL:    ec.Discord.WebhookURL,
			RoleID:        ec.Discord.RoleID,
			MessagePrefix: ec.Discord.MessagePrefix,
			Logger:        d.logger.Zerolog(),
		})
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}

	if ec.Telegram.BotToken != "" {
		if ec.Telegram.ChatID == 0 {
			d.logger.Warn().Msg("Telegram escalation has a bot token but no chat id; skipping")
		} else {
			s, err := escalation.NewTelegramSender(escalation.TelegramConfig{
				BotToken:      ec.Telegram.BotToken,
				ChatID:        ec.Telegram.ChatID,
				MessagePrefix: ec.Telegram.MessagePrefix,
				Logger:        d.logger.Zerolog(),
			})
			if err != nil {
				return nil, err
			}
			senders = append(senders, s)
		}
	}

	switch len(senders) {
	case 0:
		d.logger.Warn().Msg("No escalation channel configured; escalations are only logged")
		return escalation.NewLogSender(d.logger.Zerolog()), nil
	case 1:
		return senders[0], nil
	default:
		return escalation.NewMulti(senders...), nil
	}
}

// Config returns the configuration the daemon was built from.
func (d *Daemon) Config() *config.Config {
	return d.config
}

// Engine returns the conversation engine.
func (d *Daemon) Engine() *conversation.Engine {
	return d.engine
}

// Registry returns the ingress channel registry.
func (d *Daemon) Registry() *channels.Registry {
	return d.registry
}

// HTTPAddr returns the HTTP adapter's listening address while serving.
func (d *Daemon) HTTPAddr() string {
	if d.http == nil {
		return ""
	}
	return d.http.Addr()
}

// Ask sends one question through the in-process channel.
func (d *Daemon) Ask(ctx context.Context, sessionID, question string) (conversation.Result, error) {
	if err := d.registry.Start(ctx, DirectChannel); err != nil {
		return conversation.Result{}, err
	}
	return d.direct.Ask(ctx, sessionID, question)
}

// Chat runs the terminal channel over in and out until quit or EOF.
func (d *Daemon) Chat(ctx context.Context, in io.Reader, out io.Writer) error {
	ch, err := terminal.New(terminal.Config{
		In:        in,
		Out:       out,
		SessionID: terminal.DefaultSessionID,
		Greeting:  d.greeting(),
		Logger:    d.logger.Zerolog(),
	})
	if err != nil {
		return err
	}
	if !d.registry.IsRegistered(ch.Name()) {
		if err := d.registry.Register(ch); err != nil {
			return err
		}
	}
	return ch.Run(ctx, d.registry.Dispatch)
}

func (d *Daemon) greeting() string {
	name := d.config.Answer.AgentName
	if name == "" {
		name = "the event concierge"
	}
	return fmt.Sprintf("Hi, I'm %s. Ask me anything about the event. Type quit to leave.", name)
}

// Sync rebuilds the knowledge index from its sources.
func (d *Daemon) Sync(ctx context.Context) (knowledge.SyncStats, error) {
	if d.index == nil {
		return knowledge.SyncStats{}, ErrIndexDisabled
	}
	return d.index.Sync(ctx)
}

// IndexStatus reports the knowledge index contents.
func (d *Daemon) IndexStatus() (knowledge.Status, error) {
	if d.index == nil {
		return knowledge.Status{}, ErrIndexDisabled
	}
	return d.index.Status(), nil
}

func (d *Daemon) registerAdapters() error {
	if d.config.Server.Enabled && d.http == nil {
		d.http = httpapi.New(httpapi.Config{
			Addr:               d.config.Server.Addr(),
			RateLimitPerMinute: d.config.Server.RateLimitPerMinute,
			EnableWebSocket:    d.config.Server.WebSocket,
			AllowedOrigins:     d.config.Server.AllowedOrigins,
			Logger:             d.logger.Zerolog(),
		})
		if err := d.registry.Register(d.http); err != nil {
			return err
		}
	}

	if d.config.Telegram.Enabled && !d.registry.IsRegistered(telegram.Name) {
		bot, err := telegram.New(telegram.Config{
			BotToken:       d.config.Telegram.BotToken,
			AllowedChatIDs: d.config.Telegram.Allowlist,
			Greeting:       d.config.Telegram.Greeting,
			Logger:         d.logger.Zerolog(),
		})
		if err != nil {
			return err
		}
		if err := d.registry.Register(bot); err != nil {
			return err
		}
	}
	return nil
}

// Serve starts every configured adapter and blocks until ctx is cancelled,
// SIGINT/SIGTERM arrives or an adapter fails.
func (d *Daemon) Serve(ctx context.Context) error {
	if err := d.registerAdapters(); err != nil {
		return fmt.Errorf("failed to register channels: %w", err)
	}

	if err := d.lifecycle.Start(); err != nil {
		return err
	}
	defer func() {
		if err := d.lifecycle.Stop(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to stop lifecycle manager")
		}
	}()

	if d.index != nil {
		if stats, err := d.index.Sync(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Initial knowledge sync failed")
		} else {
			d.logger.Info().
				Int("indexed", stats.Indexed).
				Int("passages", stats.Passages).
				Msg("Knowledge index synced")
		}
	}

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	{
		serveCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			if err := d.registry.StartAll(serveCtx); err != nil {
				return fmt.Errorf("failed to start ingress channels: %w", err)
			}
			d.logger.Info().Strs("channels", d.registry.Names()).Msg("Concierge serving")

			var serveErr <-chan error
			if d.http != nil {
				serveErr = d.http.Errors()
			}
			for {
				select {
				case <-serveCtx.Done():
					return nil
				case err, ok := <-serveErr:
					if ok && err != nil {
						return err
					}
					serveErr = nil
				}
			}
		}, func(error) {
			cancel()
			stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
			defer stop()
			if err := d.registry.StopAll(stopCtx); err != nil {
				d.logger.Warn().Err(err).Msg("Failed to stop ingress channels")
			}
		})
	}

	if d.sweeper != nil {
		done := make(chan struct{})
		g.Add(func() error {
			if err := d.sweeper.Start(); err != nil {
				return err
			}
			<-done
			return nil
		}, func(error) {
			stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
			defer stop()
			_ = d.sweeper.Stop(stopCtx)
			close(done)
		})
	}

	err := g.Run()

	var sig run.SignalError
	switch {
	case errors.As(err, &sig):
		d.logger.Info().Str("signal", sig.Signal.String()).Msg("Shutting down")
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

// Close drains in-flight turns and releases the store, index and tracer.
// It is safe to call more than once.
func (d *Daemon) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		var errs []error
		if d.engine != nil {
			if err := d.engine.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("engine: %w", err))
			}
		}

		p := pool.New().WithErrors()
		if d.store != nil {
			p.Go(func() error {
				if err := d.store.Close(); err != nil {
					return fmt.Errorf("session store: %w", err)
				}
				return nil
			})
		}
		if d.index != nil {
			p.Go(func() error {
				if err := d.index.Close(); err != nil {
					return fmt.Errorf("knowledge index: %w", err)
				}
				return nil
			})
		}
		if d.audit != nil {
			p.Go(d.audit.Close)
		}
		if d.tracingEnabled {
			p.Go(func() error {
				return tracing.ShutdownOpenTelemetry(ctx)
			})
		}
		if err := p.Wait(); err != nil {
			errs = append(errs, err)
		}

		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}

// Logger returns the daemon's zerolog logger.
func (d *Daemon) Logger() zerolog.Logger {
	return d.logger.Zerolog()
}
