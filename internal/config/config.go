package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "OUTREACH_CONFIG"
	logLevelEnv       = "LOG_LEVEL"
	storeDialectEnv   = "STORE_DIALECT"
	databaseDSNEnv    = "DATABASE_DSN"
	chatGPTAPIKeyEnv  = "CHATGPT_API_KEY"
	chatGPTModelEnv   = "CHATGPT_MODEL"
	geminiAPIKeyEnv   = "GEMINI_API_KEY"
	smtpUsernameEnv   = "SMTP_USERNAME"
	smtpPasswordEnv   = "SMTP_PASSWORD"
	mailAPIKeyEnv     = "MAIL_API_KEY"
	dailyLimitEnv     = "OUTREACH_DAILY_LIMIT"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
// It is resolved once at startup and passed by value afterwards.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Store         StoreConfig        `yaml:"store"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Discovery     DiscoveryConfig    `yaml:"discovery"`
	Campaign      CampaignConfig     `yaml:"campaign"`
	LLM           LLMConfig          `yaml:"llm"`
	Delivery      DeliveryConfig     `yaml:"delivery"`
	Notifications NotificationConfig `yaml:"notifications"`
	Server        ServerConfig       `yaml:"server"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// StoreConfig selects the persistent store backend.
type StoreConfig struct {
	// Dialect is one of "sqlite", "postgres" or "memory".
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`
}

// SchedulerConfig defines when batch jobs run in serve mode.
type SchedulerConfig struct {
	Timezone          string         `yaml:"timezone"`
	DiscoveryInterval time.Duration  `yaml:"discoveryInterval"`
	OutreachInterval  time.Duration  `yaml:"outreachInterval"`
	FollowUpInterval  time.Duration  `yaml:"followUpInterval"`
	location          *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// DiscoveryConfig drives the prospect discovery pipeline.
type DiscoveryConfig struct {
	Source            string   `yaml:"source"`
	Queries           []string `yaml:"queries"`
	Topics            []string `yaml:"topics"`
	ResultsPerQuery   int      `yaml:"resultsPerQuery"`
	MinRelevanceScore int      `yaml:"minRelevanceScore"`
}

// CampaignConfig drives first contact and follow-ups.
type CampaignConfig struct {
	DailyLimit        int           `yaml:"dailyLimit"`
	SendInterval      time.Duration `yaml:"sendInterval"`
	FollowUpDelayDays int           `yaml:"followUpDelayDays"`
	MaxFollowUps      int           `yaml:"maxFollowUps"`
	InitialTemplate   string        `yaml:"initialTemplate"`
	FollowUpTemplate  string        `yaml:"followUpTemplate"`
	Brand             BrandConfig   `yaml:"brand"`
}

// FollowUpDelay converts the configured day count into a duration.
func (c CampaignConfig) FollowUpDelay() time.Duration {
	return time.Duration(c.FollowUpDelayDays) * 24 * time.Hour
}

// BrandConfig describes who is pitching; it is interpolated into prompts.
type BrandConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Founder     string   `yaml:"founder"`
	Highlights  []string `yaml:"highlights"`
	WordLimit   int      `yaml:"wordLimit"`
}

// LLMConfig selects and configures the content generator.
type LLMConfig struct {
	// Provider is "chatgpt" or "gemini".
	Provider string        `yaml:"provider"`
	ChatGPT  ChatGPTConfig `yaml:"chatgpt"`
	Gemini   GeminiConfig  `yaml:"gemini"`
}

// ChatGPTConfig defines how to contact an OpenAI-compatible API.
type ChatGPTConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"apiKey"`
	SystemPrompt string        `yaml:"systemPrompt"`
	Timeout      time.Duration `yaml:"timeout"`
}

// GeminiConfig defines how to contact the Gemini API.
type GeminiConfig struct {
	Model  string `yaml:"model"`
	APIKey string `yaml:"apiKey"`
}

// DeliveryConfig holds the sender identity and channel credentials.
type DeliveryConfig struct {
	// Channel is "smtp", "api" or "dryrun".
	Channel   string     `yaml:"channel"`
	FromName  string     `yaml:"fromName"`
	FromEmail string     `yaml:"fromEmail"`
	SMTP      SMTPConfig `yaml:"smtp"`
	API       APIConfig  `yaml:"api"`
}

// SMTPConfig describes an SMTP relay.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// TLS is "tls", "starttls" or "none".
	TLS string `yaml:"tls"`
}

// APIConfig describes an HTTP transactional-mail endpoint.
type APIConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apiKey"`
}

// NotificationConfig encapsulates operator channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// ServerConfig configures the HTTP trigger surface in serve mode.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads YAML configuration from OUTREACH_CONFIG (if set) and applies environment overrides.
func Load() Config {
	return LoadFrom(os.Getenv(configPathEnv))
}

// LoadFrom reads YAML configuration from path (if non-empty) on top of defaults
// and applies environment overrides.
func LoadFrom(path string) Config {
	cfg := Default()

	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if parsed, err := Parse(raw); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
		} else {
			cfg = parsed
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

// Parse decodes YAML on top of the defaults, so omitted keys keep their default value.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	if len(cfg.Discovery.Queries) == 0 {
		cfg.Discovery.Queries = Default().Discovery.Queries
	}
	cfg.bindTimezone()
	return cfg, nil
}

// Validate rejects settings the batch jobs cannot honour.
func (c Config) Validate() error {
	var errs []error
	if c.Discovery.MinRelevanceScore < 1 || c.Discovery.MinRelevanceScore > 10 {
		errs = append(errs, fmt.Errorf("discovery.minRelevanceScore must be within 1..10, got %d", c.Discovery.MinRelevanceScore))
	}
	if c.Discovery.ResultsPerQuery <= 0 {
		errs = append(errs, fmt.Errorf("discovery.resultsPerQuery must be positive, got %d", c.Discovery.ResultsPerQuery))
	}
	if c.Campaign.DailyLimit < 0 {
		errs = append(errs, fmt.Errorf("campaign.dailyLimit must not be negative, got %d", c.Campaign.DailyLimit))
	}
	if c.Campaign.SendInterval < 0 {
		errs = append(errs, fmt.Errorf("campaign.sendInterval must not be negative, got %s", c.Campaign.SendInterval))
	}
	if c.Campaign.FollowUpDelayDays < 0 {
		errs = append(errs, fmt.Errorf("campaign.followUpDelayDays must not be negative, got %d", c.Campaign.FollowUpDelayDays))
	}
	if c.Campaign.MaxFollowUps < 0 {
		errs = append(errs, fmt.Errorf("campaign.maxFollowUps must not be negative, got %d", c.Campaign.MaxFollowUps))
	}
	switch c.Store.Dialect {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.dialect %q is not supported", c.Store.Dialect))
	}
	return errors.Join(errs...)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(storeDialectEnv); v != "" {
		c.Store.Dialect = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Store.DSN = v
	}

	if v := os.Getenv(chatGPTAPIKeyEnv); v != "" {
		c.LLM.ChatGPT.APIKey = v
	}

	if v := os.Getenv(chatGPTModelEnv); v != "" {
		c.LLM.ChatGPT.Model = v
	}

	if v := os.Getenv(geminiAPIKeyEnv); v != "" {
		c.LLM.Gemini.APIKey = v
	}

	if v := os.Getenv(smtpUsernameEnv); v != "" {
		c.Delivery.SMTP.Username = v
	}

	if v := os.Getenv(smtpPasswordEnv); v != "" {
		c.Delivery.SMTP.Password = v
	}

	if v := os.Getenv(mailAPIKeyEnv); v != "" {
		c.Delivery.API.APIKey = v
	}

	if v := os.Getenv(dailyLimitEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Campaign.DailyLimit = n
		} else {
			log.Printf("config: ignoring %s=%q: %v", dailyLimitEnv, v, err)
		}
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

// Default returns the built-in configuration.
func Default() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Store:   StoreConfig{Dialect: "sqlite", DSN: "outreach.db"},
		Scheduler: SchedulerConfig{
			Timezone:          defaultTimezone,
			DiscoveryInterval: 24 * time.Hour,
			OutreachInterval:  24 * time.Hour,
			FollowUpInterval:  time.Hour,
			location:          tz,
		},
		Discovery: DiscoveryConfig{
			Source: "duckduckgo",
			Queries: []string{
				"community building podcast hosts",
				"neighborhood engagement newsletter editors",
				"civic tech journalists",
				"local community organizers podcast",
				"loneliness epidemic researchers",
				"social connection researchers podcast",
			},
			Topics:            []string{"community building", "neighborhoods", "loneliness", "civic tech"},
			ResultsPerQuery:   10,
			MinRelevanceScore: 7,
		},
		Campaign: CampaignConfig{
			DailyLimit:        10,
			SendInterval:      2 * time.Second,
			FollowUpDelayDays: 7,
			MaxFollowUps:      2,
			InitialTemplate:   "initial",
			FollowUpTemplate:  "follow-up",
			Brand: BrandConfig{
				Name:        "Our community platform",
				Description: "A platform that helps neighbors meet, organize and support each other.",
				WordLimit:   200,
			},
		},
		LLM: LLMConfig{
			Provider: "chatgpt",
			ChatGPT: ChatGPTConfig{
				Endpoint:     "https://api.openai.com/v1/chat/completions",
				Model:        "gpt-4o-mini",
				SystemPrompt: "You research outreach prospects and write concise, personal pitch emails.",
				Timeout:      30 * time.Second,
			},
			Gemini: GeminiConfig{Model: "gemini-2.0-flash"},
		},
		Delivery: DeliveryConfig{
			Channel: "dryrun",
			SMTP:    SMTPConfig{Host: "smtp.gmail.com", Port: 587, TLS: "starttls"},
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}
