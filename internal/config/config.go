// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Server   ServerConfig   `mapstructure:"server"`
	Session  SessionConfig  `mapstructure:"session"`
	Peer     PeerConfig     `mapstructure:"peer"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Market   MarketConfig   `mapstructure:"market"`
	Log      LogConfig      `mapstructure:"log"`
	Alert    AlertConfig    `mapstructure:"alert"`
}

// TelegramConfig holds provider credentials. Both may be empty at startup and
// supplied later through the setup endpoint.
type TelegramConfig struct {
	APIID   int    `mapstructure:"api_id"`
	APIHash string `mapstructure:"api_hash"`
	Phone   string `mapstructure:"phone"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	StreamInterval time.Duration `mapstructure:"stream_interval"`
}

type SessionConfig struct {
	File string `mapstructure:"file"`
}

type PeerConfig struct {
	Keyword      string        `mapstructure:"keyword"`
	RetryInitial time.Duration `mapstructure:"retry_initial"`
	RetryMax     time.Duration `mapstructure:"retry_max"`
}

type TradingConfig struct {
	DryRun          bool          `mapstructure:"dry_run"`
	PositionSize    float64       `mapstructure:"position_size"`
	Slippage        float64       `mapstructure:"slippage"`
	SellPercent     int           `mapstructure:"sell_percent"`
	MaxPositions    int           `mapstructure:"max_positions"`
	MinLiquidity    float64       `mapstructure:"min_liquidity"`
	MinScore        float64       `mapstructure:"min_score"`
	MaxTokenAge     time.Duration `mapstructure:"max_token_age"`
	ScanInterval    time.Duration `mapstructure:"scan_interval"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	TakeProfitAfter time.Duration `mapstructure:"take_profit_after"`
	HardTimeout     time.Duration `mapstructure:"hard_timeout"`
	RetryInitial    time.Duration `mapstructure:"retry_initial"`
	RetryMax        time.Duration `mapstructure:"retry_max"`
	HealthInterval  time.Duration `mapstructure:"health_interval"`
}

type MarketConfig struct {
	UniverseFile      string  `mapstructure:"universe_file"`
	BatchSize         int     `mapstructure:"batch_size"`
	ProfitProbability float64 `mapstructure:"profit_probability"`
	StopProbability   float64 `mapstructure:"stop_probability"`
	MinGain           float64 `mapstructure:"min_gain"`
	MaxGain           float64 `mapstructure:"max_gain"`
	Seed              uint64  `mapstructure:"seed"`
}

type LogConfig struct {
	File        string `mapstructure:"file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
	Development bool   `mapstructure:"development"`
}

// AlertConfig points trade and health alerts at a bot API chat. Alerts are
// only logged when the token or chat is empty.
type AlertConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether alerts are delivered to a chat.
func (a AlertConfig) Enabled() bool {
	return a.BotToken != "" && a.ChatID != ""
}

const (
	DefaultPort        = 8080
	DefaultSessionFile = "session.txt"
	DefaultPeerKeyword = "toxi"
	EnvPrefix          = "TOXI"
)

var defaults = map[string]interface{}{
	"telegram.api_id":           0,
	"telegram.api_hash":         "",
	"telegram.phone":            "",
	"server.port":               DefaultPort,
	"server.stream_interval":    "5s",
	"session.file":              DefaultSessionFile,
	"peer.keyword":              DefaultPeerKeyword,
	"peer.retry_initial":        "2s",
	"peer.retry_max":            "2m",
	"trading.dry_run":           false,
	"trading.position_size":     0.05,
	"trading.slippage":          0.15,
	"trading.sell_percent":      80,
	"trading.max_positions":     5,
	"trading.min_liquidity":     5000.0,
	"trading.min_score":         0.0,
	"trading.max_token_age":     "60m",
	"trading.scan_interval":     "2m",
	"trading.monitor_interval":  "30s",
	"trading.take_profit_after": "10m",
	"trading.hard_timeout":      "2h",
	"trading.retry_initial":     "30s",
	"trading.retry_max":         "5m",
	"trading.health_interval":   "1h",
	"market.universe_file":      "",
	"market.batch_size":         20,
	"market.profit_probability": 0.3,
	"market.stop_probability":   0.05,
	"market.min_gain":           1.2,
	"market.max_gain":           3.0,
	"market.seed":               0,
	"log.file":                  "logs/bot.log",
	"log.max_size":              100,
	"log.max_backups":           3,
	"log.max_age":               7,
	"log.compress":              true,
	"log.development":           false,
	"alert.bot_token":           "",
	"alert.chat_id":             "",
	"alert.api_base":            "https://api.telegram.org",
	"alert.timeout":             "10s",
}

// Environment names used by the deployment scripts, kept unprefixed.
var legacyEnv = map[string]string{
	"telegram.api_id":   "TG_API_ID",
	"telegram.api_hash": "TG_API_HASH",
	"telegram.phone":    "TG_PHONE",
	"server.port":       "PORT",
	"alert.bot_token":   "TELEGRAM_BOT_TOKEN",
	"alert.chat_id":     "TELEGRAM_CHAT_ID",
}

// Load reads an optional .env file, an optional config file at path and the
// process environment, in increasing order of precedence.
func Load(path string) (*Config, error) {
	// A missing .env is normal in containers.
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config error: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config: %w", err)
		}
	}

	if err := loadEnvironmentVariables(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}

	cfg.Telegram.APIHash = strings.TrimSpace(cfg.Telegram.APIHash)
	cfg.Telegram.Phone = strings.TrimSpace(cfg.Telegram.Phone)
	cfg.Alert.BotToken = strings.TrimSpace(cfg.Alert.BotToken)
	cfg.Alert.ChatID = strings.TrimSpace(cfg.Alert.ChatID)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Session.File == "" {
		return errors.New("session.file is required")
	}
	if strings.TrimSpace(c.Peer.Keyword) == "" {
		return errors.New("peer.keyword is required")
	}
	if c.Telegram.APIID < 0 {
		return errors.New("invalid telegram api_id")
	}
	if c.Alert.Timeout <= 0 {
		return errors.New("invalid alert.timeout")
	}
	if c.Alert.Enabled() && c.Alert.APIBase == "" {
		return errors.New("alert.api_base is required when alerts are enabled")
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	return c.Market.validate()
}

func (t *TradingConfig) validate() error {
	durations := map[string]time.Duration{
		"scan_interval":     t.ScanInterval,
		"monitor_interval":  t.MonitorInterval,
		"take_profit_after": t.TakeProfitAfter,
		"hard_timeout":      t.HardTimeout,
		"retry_initial":     t.RetryInitial,
		"retry_max":         t.RetryMax,
		"health_interval":   t.HealthInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("invalid trading.%s", name)
		}
	}
	if t.PositionSize <= 0 {
		return errors.New("invalid trading.position_size")
	}
	if t.Slippage < 0 || t.Slippage > 1 {
		return errors.New("trading.slippage must be between 0 and 1")
	}
	if t.SellPercent <= 0 || t.SellPercent > 100 {
		return errors.New("trading.sell_percent must be between 1 and 100")
	}
	if t.MaxPositions <= 0 {
		return errors.New("invalid trading.max_positions")
	}
	if t.MinScore < 0 || t.MinScore > 1 {
		return errors.New("trading.min_score must be between 0 and 1")
	}
	if t.MaxTokenAge <= 0 {
		return errors.New("invalid trading.max_token_age")
	}
	if t.HardTimeout < t.TakeProfitAfter {
		return errors.New("trading.hard_timeout must not be shorter than take_profit_after")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if m.BatchSize <= 0 {
		return errors.New("invalid market.batch_size")
	}
	for name, p := range map[string]float64{
		"profit_probability": m.ProfitProbability,
		"stop_probability":   m.StopProbability,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("market.%s must be between 0 and 1", name)
		}
	}
	if m.MinGain <= 0 || m.MaxGain < m.MinGain {
		return errors.New("invalid market gain range")
	}
	return nil
}

// Address returns the listen address for the HTTP facade.
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// MaskedHash hides everything but the last four characters of the API hash.
func (c *Config) MaskedHash() string {
	h := c.Telegram.APIHash
	if len(h) <= 4 {
		return "***"
	}
	return "***" + h[len(h)-4:]
}
