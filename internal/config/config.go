package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	Environment string `env:"MAILRELAY_ENV" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"4210"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"console"`
	// APIKey protects the automation-facing routes when set.
	APIKey string `env:"MAILRELAY_API_KEY"`

	IMAP   IMAPConfig
	Chat   ChatConfig
	Relay  RelayConfig
	OpenAI OpenAIConfig
	Flows  FlowConfig

	// DotEnvMissing is set when development mode found no .env file.
	DotEnvMissing bool
}

type IMAPConfig struct {
	Host          string        `env:"IMAP_SERVER"`
	Port          string        `env:"IMAP_PORT" envDefault:"993"`
	Username      string        `env:"IMAP_USERNAME"`
	Password      string        `env:"IMAP_PASSWORD"`
	UseTLS        bool          `env:"IMAP_TLS" envDefault:"true"`
	DialTimeout   time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	DraftsFolders []string      `env:"DRAFTS_FOLDERS" envDefault:"Drafts,Entwürfe"`
	TrashFolder   string        `env:"TRASH_FOLDER" envDefault:"Trash"`
	// SenderAddress is used as From on drafts when the original has no recipient.
	SenderAddress string `env:"SENDER_ADDRESS"`
}

type ChatConfig struct {
	BotToken      string `env:"DISCORD_BOT_TOKEN"`
	ApplicationID string `env:"DISCORD_APPLICATION_ID"`
	ChannelID     string `env:"DISCORD_CHANNEL_ID"`
	GatewayURL    string `env:"DISCORD_GATEWAY_URL" envDefault:"wss://gateway.discord.gg/?v=10&encoding=json"`
	APIBaseURL    string `env:"DISCORD_API_URL" envDefault:"https://discord.com/api/v10"`
	MarkReadLabel string `env:"MARK_READ_LABEL" envDefault:"Mark as Read"`
	// AnnounceNewMail posts a chat message with action buttons for every new INBOX email.
	AnnounceNewMail bool `env:"ANNOUNCE_NEW_MAIL" envDefault:"false"`
}

type RelayConfig struct {
	URL       string `env:"RELAY_URL"`
	AuthToken string `env:"RELAY_AUTH_TOKEN"`
}

type OpenAIConfig struct {
	APIKey    string `env:"OPENAI_API_KEY"`
	Model     string `env:"OPENAI_MODEL" envDefault:"gpt-4"`
	BaseURL   string `env:"OPENAI_BASE_URL"`
	MaxTokens int    `env:"OPENAI_MAX_TOKENS" envDefault:"500"`
}

type FlowConfig struct {
	TTL           time.Duration `env:"FLOW_TTL" envDefault:"15m"`
	SweepSchedule string        `env:"FLOW_SWEEP_SCHEDULE" envDefault:"@every 1m"`
	// DedupWindow enables the at-most-once guard when positive.
	DedupWindow time.Duration `env:"DEDUP_WINDOW" envDefault:"0s"`
}

func NewConfig() (*Config, error) {
	dotEnvMissing := false
	environment := os.Getenv("MAILRELAY_ENV")
	if environment == "" || environment == "development" {
		if err := godotenv.Load(); err != nil {
			dotEnvMissing = true
		}
	}

	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	config.DotEnvMissing = dotEnvMissing

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if c.IMAP.Host == "" {
		return errors.New("IMAP_SERVER is required")
	}

	if c.IMAP.Username == "" {
		return errors.New("IMAP_USERNAME is required")
	}

	if c.IMAP.Password == "" {
		return errors.New("IMAP_PASSWORD is required")
	}

	if len(c.IMAP.DraftsFolders) == 0 {
		return errors.New("DRAFTS_FOLDERS must name at least one folder")
	}

	if c.Flows.TTL <= 0 {
		return errors.New("FLOW_TTL must be positive")
	}

	if c.Flows.DedupWindow < 0 {
		return errors.New("DEDUP_WINDOW must not be negative")
	}

	return nil
}

// ValidateBridge checks the chat and relay settings needed by the serve command.
func (c *Config) ValidateBridge() error {
	if c.Chat.BotToken == "" {
		return errors.New("DISCORD_BOT_TOKEN is required")
	}

	if c.Chat.ApplicationID == "" {
		return errors.New("DISCORD_APPLICATION_ID is required")
	}

	if c.Chat.ChannelID == "" {
		return errors.New("DISCORD_CHANNEL_ID is required")
	}

	if c.Relay.URL == "" {
		return errors.New("RELAY_URL is required")
	}

	return nil
}

func (c *Config) IMAPAddress() string {
	return c.IMAP.Host + ":" + c.IMAP.Port
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
