package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultPGHost         = "127.0.0.1"
	DefaultPGPort         = 5432
	DefaultPGUser         = "postgres"
	DefaultPGDatabase     = "kanal"
	DefaultPGSSLMode      = "disable"
	DefaultChatbotTimeout = 30
	DefaultPollInterval   = 60
	DefaultSweepInterval  = "5m"
	DefaultIdleTimeout    = "15m"
	DefaultSweepBatchSize = 50
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Chatbot   ChatbotConfig   `toml:"chatbot"`
	WhatsApp  WhatsAppConfig  `toml:"whatsapp"`
	Instagram InstagramConfig `toml:"instagram"`
	Email     EmailConfig     `toml:"email"`
	Session   SessionConfig   `toml:"session"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr   string `toml:"addr"`
	APIKey string `toml:"api_key"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// URL renders the pool connection string.
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type ChatbotConfig struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (c ChatbotConfig) Configured() bool {
	return strings.TrimSpace(c.URL) != ""
}

func (c ChatbotConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultChatbotTimeout * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type WhatsAppConfig struct {
	VerifyToken   string `toml:"verify_token"`
	AccessToken   string `toml:"access_token"`
	PhoneNumberID string `toml:"phone_number_id"`
}

func (c WhatsAppConfig) Configured() bool {
	return strings.TrimSpace(c.AccessToken) != "" && strings.TrimSpace(c.PhoneNumberID) != ""
}

type InstagramConfig struct {
	VerifyToken string `toml:"verify_token"`
	AccessToken string `toml:"access_token"`
}

func (c InstagramConfig) Configured() bool {
	return strings.TrimSpace(c.AccessToken) != ""
}

// EmailConfig selects the inbound provider ("imap" or "graph") and the
// outbound transport ("smtp" or "mailgun").
type EmailConfig struct {
	Provider            string        `toml:"provider"`
	Outbound            string        `toml:"outbound"`
	PollIntervalSeconds int           `toml:"poll_interval_seconds"`
	FromAddress         string        `toml:"from_address"`
	Signature           string        `toml:"signature"`
	IMAP                IMAPConfig    `toml:"imap"`
	SMTP                SMTPConfig    `toml:"smtp"`
	Graph               GraphConfig   `toml:"graph"`
	Mailgun             MailgunConfig `toml:"mailgun"`
}

func (c EmailConfig) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return DefaultPollInterval * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// IngestConfigured reports whether the inbound email worker can start.
func (c EmailConfig) IngestConfigured() bool {
	switch c.Provider {
	case "imap":
		return c.IMAP.Host != "" && c.IMAP.Username != ""
	case "graph":
		return c.Graph.TenantID != "" && c.Graph.ClientID != "" && c.Graph.ClientSecret != "" && c.Graph.User != ""
	}
	return false
}

// OutboundConfigured reports whether the email channel adapter can send.
func (c EmailConfig) OutboundConfigured() bool {
	switch c.Outbound {
	case "mailgun":
		return c.Mailgun.Domain != "" && c.Mailgun.APIKey != ""
	default:
		return c.SMTP.Host != ""
	}
}

type IMAPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Security string `toml:"security"`
}

type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Security string `toml:"security"`
}

type GraphConfig struct {
	TenantID     string `toml:"tenant_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	User         string `toml:"user"`
}

type MailgunConfig struct {
	Domain string `toml:"domain"`
	APIKey string `toml:"api_key"`
}

type SessionConfig struct {
	SweepInterval  string   `toml:"sweep_interval"`
	IdleTimeout    string   `toml:"idle_timeout"`
	SweepBatchSize int      `toml:"sweep_batch_size"`
	SweptPlatforms []string `toml:"swept_platforms"`
	ClosingNotice  string   `toml:"closing_notice"`
}

func (c SessionConfig) SweepEvery() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultSweepInterval)
	}
	return d
}

func (c SessionConfig) IdleAfter() time.Duration {
	d, err := time.ParseDuration(c.IdleTimeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultIdleTimeout)
	}
	return d
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Chatbot: ChatbotConfig{
			TimeoutSeconds: DefaultChatbotTimeout,
		},
		Email: EmailConfig{
			Outbound:            "smtp",
			PollIntervalSeconds: DefaultPollInterval,
			IMAP:                IMAPConfig{Port: 993, Security: "tls"},
			SMTP:                SMTPConfig{Port: 587, Security: "starttls"},
		},
		Session: SessionConfig{
			SweepInterval:  DefaultSweepInterval,
			IdleTimeout:    DefaultIdleTimeout,
			SweepBatchSize: DefaultSweepBatchSize,
			SweptPlatforms: []string{"whatsapp", "instagram"},
			ClosingNotice:  "This session has been closed due to inactivity. Send a new message to start again.",
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
