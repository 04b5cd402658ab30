package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	cronv3 "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vdavid/mailrelay/internal/api"
	"github.com/vdavid/mailrelay/internal/chat"
	"github.com/vdavid/mailrelay/internal/config"
	"github.com/vdavid/mailrelay/internal/imap"
	"github.com/vdavid/mailrelay/internal/logging"
	"github.com/vdavid/mailrelay/internal/reconcile"
	"github.com/vdavid/mailrelay/internal/relay"
	"github.com/vdavid/mailrelay/internal/router"
	"github.com/vdavid/mailrelay/internal/suggest"
)

const shutdownTimeout = 10 * time.Second

// App is the application context: it is built once at startup and owns every
// long-running duty. Components receive their collaborators from here
// instead of reaching for globals.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	Connector imap.Connector
	Mailbox   *imap.Gateway
	Chat      *chat.Client
	Relay     *relay.Client
	Flows     *router.Flows
	Guard     *router.Guard
	Router    *router.Router

	gateway *chat.Gateway
	watcher *imap.Watcher
	handler http.Handler
}

// New wires every component from the configuration. It does not open any connection.
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	if _, err := cronv3.ParseStandard(cfg.Flows.SweepSchedule); err != nil {
		return nil, errors.Wrapf(err, "invalid FLOW_SWEEP_SCHEDULE %q", cfg.Flows.SweepSchedule)
	}

	a := &App{cfg: cfg, logger: logger}

	a.Connector = imap.NewDialer(imap.ConnectionConfig{
		Address:     cfg.IMAPAddress(),
		Username:    cfg.IMAP.Username,
		Password:    cfg.IMAP.Password,
		UseTLS:      cfg.IMAP.UseTLS,
		DialTimeout: cfg.IMAP.DialTimeout,
	})
	a.Mailbox = imap.NewGateway(a.Connector, imap.GatewayConfig{
		TrashFolder:   cfg.IMAP.TrashFolder,
		DraftsFolders: cfg.IMAP.DraftsFolders,
		SenderAddress: cfg.IMAP.SenderAddress,
	}, logger)

	suggester := NewSuggestEngine(a.Mailbox, cfg.OpenAI, logger)

	a.Chat = chat.NewClient(cfg.Chat.APIBaseURL, cfg.Chat.BotToken, cfg.Chat.ApplicationID, nil, logger)
	a.Relay = relay.NewClient(cfg.Relay.URL, cfg.Relay.AuthToken, nil, logger)
	a.Flows = router.NewFlows(cfg.Flows.TTL, logger)
	a.Guard = router.NewGuard(cfg.Flows.DedupWindow)
	a.Router = router.NewRouter(a.Chat, a.Relay, a.Flows, a.Guard, logger)
	a.gateway = chat.NewGateway(cfg.Chat.GatewayURL, cfg.Chat.BotToken, a.Router.HandleInteraction, logger)

	var observer reconcile.ResultObserver
	if a.Guard != nil {
		observer = a.Guard
	}
	reconciler := reconcile.NewReconciler(a.Chat, cfg.Chat.ChannelID, cfg.Chat.MarkReadLabel, observer, logger)

	a.handler = api.NewServer(
		api.NewCallbackHandler(reconciler, logger),
		api.NewMailboxHandler(a.Mailbox, suggester, logger),
		cfg.APIKey,
		logger,
	)

	if cfg.Chat.AnnounceNewMail {
		a.watcher = imap.NewWatcher(a.Connector, NewAnnouncer(a.Chat, cfg.Chat.ChannelID, cfg.Chat.MarkReadLabel, logger), logger)
	}

	return a, nil
}

// Handler returns the HTTP surface: the callback route and the mailbox routes.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run starts every duty and blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", ":"+a.cfg.Port)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on port %s", a.cfg.Port)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gateway.Run(ctx)
	})

	g.Go(func() error {
		return Serve(ctx, listener, a.handler, a.logger)
	})

	g.Go(func() error {
		return a.runSweeper(ctx)
	})

	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(ctx)
		})
	}

	a.logger.Info().Str("port", a.cfg.Port).Bool("announce_new_mail", a.watcher != nil).Msg("mailrelay started")
	return g.Wait()
}

// Serve runs an HTTP server on listener until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, listener net.Listener, handler http.Handler, logger zerolog.Logger) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server failed")
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}
	return nil
}

func (a *App) runSweeper(ctx context.Context) error {
	log := logging.Component(a.logger, "sweeper")
	c := cronv3.New(cronv3.WithChain(
		cronv3.SkipIfStillRunning(cronLogger{log}),
		cronv3.Recover(cronLogger{log}),
	))
	if _, err := c.AddFunc(a.cfg.Flows.SweepSchedule, a.Router.Sweep); err != nil {
		return errors.Wrapf(err, "invalid sweep schedule %q", a.cfg.Flows.SweepSchedule)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts zerolog to the cron.Logger interface.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// NewSuggestEngine builds the reply engine on top of mailbox. Without an API key
// every generation fails with suggest.ErrGeneration.
func NewSuggestEngine(mailbox suggest.Mailbox, cfg config.OpenAIConfig, logger zerolog.Logger) *suggest.Engine {
	if cfg.APIKey == "" {
		logger.Warn().Msg("OPENAI_API_KEY not set, /suggest-answer will report generation errors")
		return suggest.NewEngine(mailbox, unavailableGenerator{}, cfg.MaxTokens, logger)
	}

	generator := suggest.NewOpenAIGenerator(suggest.OpenAIConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
	})
	return suggest.NewEngine(mailbox, generator, cfg.MaxTokens, logger)
}

// unavailableGenerator stands in when no text generation backend is configured.
type unavailableGenerator struct{}

func (unavailableGenerator) Generate(context.Context, suggest.Request) (string, error) {
	return "", errors.Wrap(suggest.ErrGeneration, "no text generation backend configured")
}
