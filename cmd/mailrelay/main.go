package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/vdavid/mailrelay/internal/api"
	"github.com/vdavid/mailrelay/internal/app"
	"github.com/vdavid/mailrelay/internal/config"
	"github.com/vdavid/mailrelay/internal/imap"
	"github.com/vdavid/mailrelay/internal/logging"
	"github.com/vdavid/mailrelay/internal/testutil"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
		logger.Fatal().Err(err).Msg("mailrelay failed")
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "mailrelay",
		Usage: "bridge chat buttons to mail automation and expose the mailbox over HTTP",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the chat gateway, the HTTP routes and the flow sweeper",
				Action: runServe,
			},
			{
				Name:      "lookup-uid",
				Usage:     "resolve a Message-ID to its INBOX UID",
				ArgsUsage: "<message-id>",
				Action:    runLookupUID,
			},
			{
				Name:  "sandbox",
				Usage: "serve the mailbox routes against a seeded in-memory IMAP server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "imap-addr", Value: "127.0.0.1:1143", Usage: "address of the in-memory IMAP server"},
					&cli.StringFlag{Name: "port", Value: "4210", Usage: "HTTP port", EnvVars: []string{"PORT"}},
					&cli.StringFlag{Name: "api-key", Usage: "protect the routes with this key", EnvVars: []string{"MAILRELAY_API_KEY"}},
					&cli.StringFlag{Name: "log-level", Value: "debug", EnvVars: []string{"LOG_LEVEL"}},
				},
				Action: runSandbox,
			},
		},
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateBridge(); err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	warnMissingDotEnv(cfg, logger)

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("environment", cfg.Environment).Msg("Starting mailrelay")
	return a.Run(ctx)
}

func runLookupUID(c *cli.Context) error {
	messageID := c.Args().First()
	if messageID == "" {
		return cli.Exit("lookup-uid needs a Message-ID argument", 2)
	}

	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	warnMissingDotEnv(cfg, logger)
	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	uid, err := a.Mailbox.ResolveUID(c.Context, messageID)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(c.App.Writer, uid)
	return err
}

func warnMissingDotEnv(cfg *config.Config, logger zerolog.Logger) {
	if cfg.DotEnvMissing {
		logger.Warn().Msg(".env file not found, using environment variables")
	}
}

func runSandbox(c *cli.Context) error {
	logger := logging.New(c.String("log-level"), "console")

	imapServer, err := startSandbox(c.String("imap-addr"))
	if err != nil {
		return err
	}
	defer imapServer.Close()

	listener, err := net.Listen("tcp", ":"+c.String("port"))
	if err != nil {
		return errors.Wrapf(err, "failed to listen on port %s", c.String("port"))
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("imap", imapServer.Address).
		Str("username", imapServer.Username()).
		Str("password", imapServer.Password()).
		Str("http", listener.Addr().String()).
		Msg("Sandbox ready. Press Ctrl+C to stop.")

	return app.Serve(ctx, listener, sandboxHandler(imapServer, c.String("api-key"), logger), logger)
}

// sandboxMessages are seeded into the sandbox INBOX.
var sandboxMessages = []struct {
	id      string
	subject string
	from    string
	body    string
}{
	{"welcome@sandbox.mailrelay", "Welcome to the sandbox", "Sandbox <sandbox@mailrelay.local>", "Try /get-uid with this Message-ID."},
	{"order-42@shop.example", "Where is my order?", "Alice <alice@example.com>", "Hi,\n\nI ordered a lamp last week and have not heard back.\n\nThanks, Alice"},
	{"invoice-7@agency.example", "Invoice 7", "Billing <billing@agency.example>", "Please find the invoice attached."},
}

// startSandbox starts an in-memory IMAP server with Trash and Drafts folders
// and a few INBOX messages.
func startSandbox(addr string) (*testutil.TestIMAPServer, error) {
	server, err := testutil.StartIMAPServer(addr)
	if err != nil {
		return nil, err
	}

	for _, folder := range []string{"Trash", "Drafts"} {
		if err := server.CreateFolder(folder); err != nil {
			server.Close()
			return nil, err
		}
	}

	sentAt := time.Now().Add(-time.Hour)
	for i, m := range sandboxMessages {
		raw := testutil.PlainMessage(m.id, m.subject, m.from, "support@mailrelay.local", m.body, sentAt.Add(time.Duration(i)*time.Minute))
		if _, err := server.AppendRaw("INBOX", raw); err != nil {
			server.Close()
			return nil, errors.Wrapf(err, "failed to seed %s", m.id)
		}
	}

	return server, nil
}

// sandboxHandler serves the mailbox routes against the sandbox server. There is
// no chat side, so the callback route is not registered.
func sandboxHandler(server *testutil.TestIMAPServer, apiKey string, logger zerolog.Logger) http.Handler {
	mailbox := imap.NewGateway(imap.NewDialer(imap.ConnectionConfig{
		Address:  server.Address,
		Username: server.Username(),
		Password: server.Password(),
	}), imap.GatewayConfig{SenderAddress: "support@mailrelay.local"}, logger)

	suggester := app.NewSuggestEngine(mailbox, config.OpenAIConfig{
		APIKey: os.Getenv("OPENAI_API_KEY"),
		Model:  "gpt-4",
	}, logger)

	return api.NewServer(nil, api.NewMailboxHandler(mailbox, suggester, logger), apiKey, logger)
}
