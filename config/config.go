// Package config loads the service configuration from TOML, a .env file and
// the environment, in that order of precedence (environment wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	accounts "github.com/lungvision/go-accounts"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8000"
	DefaultDatabaseDriver   = "sqlite"
	DefaultDatabaseDSN      = "file:lungvision.db?cache=shared"
	DefaultIssuer           = "lungvision"
	DefaultMailPort         = 587
	DefaultMailFrom         = "LungVision <noreply@lungvision.local>"
	DefaultTransport        = TransportLog
	DefaultKafkaTopic       = "lungvision.notifications"
	DefaultKafkaGroupID     = "lungvision-mailer"
	DefaultInferenceURL     = "http://localhost:8001"
	DefaultInferenceTimeout = 60 * time.Second
	DefaultLogLevel         = "info"
)

// Notification transports
const (
	TransportSMTP  = "smtp"
	TransportKafka = "kafka"
	TransportLog   = "log"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `toml:"server"`
	Database      DatabaseConfig      `toml:"database"`
	Auth          AuthConfig          `toml:"auth"`
	Mail          MailConfig          `toml:"mail"`
	Notifications NotificationsConfig `toml:"notifications"`
	Redis         RedisConfig         `toml:"redis"`
	Inference     InferenceConfig     `toml:"inference"`
	Log           LogConfig           `toml:"log"`
}

var _ accounts.Config = Config{}

type ServerConfig struct {
	Addr  string `toml:"addr"`
	Debug bool   `toml:"debug"`
}

type DatabaseConfig struct {
	Driver       string `toml:"driver"`
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

type AuthConfig struct {
	SigningKey      string   `toml:"signing_key"`
	Issuer          string   `toml:"issuer"`
	Audience        []string `toml:"audience"`
	AccessTokenTTL  Duration `toml:"access_token_ttl"`
	RefreshTokenTTL Duration `toml:"refresh_token_ttl"`
	UseHashid       bool     `toml:"use_hashid"`
}

type MailConfig struct {
	Host             string   `toml:"host"`
	Port             int      `toml:"port"`
	Username         string   `toml:"username"`
	Password         string   `toml:"password"`
	From             string   `toml:"from"`
	ReplyTo          string   `toml:"reply_to"`
	Timeout          Duration `toml:"timeout"`
	FrontendLoginURL string   `toml:"frontend_login_url"`
}

type NotificationsConfig struct {
	Transport    string   `toml:"transport"`
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`
	KafkaGroupID string   `toml:"kafka_group_id"`
}

// RedisConfig selects the shared denylist. An empty address keeps the
// in-process denylist.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type InferenceConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout Duration `toml:"timeout"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Duration decodes TOML strings such as "15m" or "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Database: DatabaseConfig{
			Driver: DefaultDatabaseDriver,
			DSN:    DefaultDatabaseDSN,
		},
		Auth: AuthConfig{
			Issuer:          DefaultIssuer,
			AccessTokenTTL:  Duration{accounts.DefaultAccessTokenTTL},
			RefreshTokenTTL: Duration{accounts.DefaultRefreshTokenTTL},
		},
		Mail: MailConfig{
			Port:             DefaultMailPort,
			From:             DefaultMailFrom,
			Timeout:          Duration{15 * time.Second},
			FrontendLoginURL: accounts.DefaultLoginURL,
		},
		Notifications: NotificationsConfig{
			Transport:    DefaultTransport,
			KafkaTopic:   DefaultKafkaTopic,
			KafkaGroupID: DefaultKafkaGroupID,
		},
		Inference: InferenceConfig{
			BaseURL: DefaultInferenceURL,
			Timeout: Duration{DefaultInferenceTimeout},
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Load reads path (missing file means defaults), then .env, then the
// environment.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.SigningKey) == "" {
		return fmt.Errorf("auth.signing_key (LV_AUTH_SIGNING_KEY) is required")
	}
	switch c.Notifications.Transport {
	case TransportSMTP, TransportLog:
	case TransportKafka:
		if len(c.Notifications.KafkaBrokers) == 0 {
			return fmt.Errorf("notifications.kafka_brokers is required for the kafka transport")
		}
	default:
		return fmt.Errorf("unknown notifications.transport %q", c.Notifications.Transport)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(target *string, keys ...string) {
		for _, key := range keys {
			if v, ok := lookup(key); ok && v != "" {
				*target = v
				return
			}
		}
	}

	str(&c.Server.Addr, "LV_SERVER_ADDR")
	str(&c.Database.Driver, "LV_DATABASE_DRIVER")
	str(&c.Database.DSN, "LV_DATABASE_DSN", "DATABASE_URL")
	str(&c.Auth.SigningKey, "LV_AUTH_SIGNING_KEY", "SECRET_KEY")
	str(&c.Auth.Issuer, "LV_AUTH_ISSUER")
	str(&c.Mail.Host, "LV_MAIL_HOST", "EMAIL_HOST")
	str(&c.Mail.Username, "LV_MAIL_USERNAME", "EMAIL_HOST_USER")
	str(&c.Mail.Password, "LV_MAIL_PASSWORD", "EMAIL_HOST_PASSWORD")
	str(&c.Mail.From, "LV_MAIL_FROM", "DEFAULT_FROM_EMAIL")
	str(&c.Mail.ReplyTo, "LV_MAIL_REPLY_TO")
	str(&c.Mail.FrontendLoginURL, "LV_FRONTEND_LOGIN_URL", "FRONTEND_LOGIN_URL")
	str(&c.Notifications.Transport, "LV_NOTIFICATIONS_TRANSPORT")
	str(&c.Notifications.KafkaTopic, "LV_KAFKA_TOPIC")
	str(&c.Notifications.KafkaGroupID, "LV_KAFKA_GROUP_ID")
	str(&c.Redis.Addr, "LV_REDIS_ADDR")
	str(&c.Redis.Password, "LV_REDIS_PASSWORD")
	str(&c.Inference.BaseURL, "LV_INFERENCE_URL")
	str(&c.Log.Level, "LV_LOG_LEVEL")

	if v, ok := lookup("LV_KAFKA_BROKERS"); ok && v != "" {
		c.Notifications.KafkaBrokers = splitList(v)
	}
	if v, ok := lookup("LV_AUTH_AUDIENCE"); ok && v != "" {
		c.Auth.Audience = splitList(v)
	}

	ints := []struct {
		key    string
		target *int
	}{
		{"LV_MAIL_PORT", &c.Mail.Port},
		{"LV_REDIS_DB", &c.Redis.DB},
	}
	for _, item := range ints {
		if v, ok := lookup(item.key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", item.key, err)
			}
			*item.target = n
		}
	}

	durations := []struct {
		key    string
		target *Duration
	}{
		{"LV_ACCESS_TOKEN_TTL", &c.Auth.AccessTokenTTL},
		{"LV_REFRESH_TOKEN_TTL", &c.Auth.RefreshTokenTTL},
		{"LV_INFERENCE_TIMEOUT", &c.Inference.Timeout},
	}
	for _, item := range durations {
		if v, ok := lookup(item.key); ok && v != "" {
			if err := item.target.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", item.key, err)
			}
		}
	}

	bools := []struct {
		key    string
		target *bool
	}{
		{"LV_AUTH_USE_HASHID", &c.Auth.UseHashid},
		{"LV_DEBUG", &c.Server.Debug},
	}
	for _, item := range bools {
		if v, ok := lookup(item.key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", item.key, err)
			}
			*item.target = b
		}
	}

	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) GetSigningKey() string             { return c.Auth.SigningKey }
func (c Config) GetIssuer() string                 { return c.Auth.Issuer }
func (c Config) GetAudience() []string             { return c.Auth.Audience }
func (c Config) GetAccessTokenTTL() time.Duration  { return c.Auth.AccessTokenTTL.Duration }
func (c Config) GetRefreshTokenTTL() time.Duration { return c.Auth.RefreshTokenTTL.Duration }
