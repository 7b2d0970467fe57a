package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone    = "UTC"
	configPathEnv      = "NEWS_DIGEST_CONFIG"
	databaseDriverEnv  = "DATABASE_DRIVER"
	databaseDSNEnv     = "DATABASE_DSN"
	summarizerKeyEnv   = "SUMMARIZER_API_KEY"
	summarizerModelEnv = "SUMMARIZER_MODEL"
	smtpUsernameEnv    = "SMTP_USERNAME"
	smtpPasswordEnv    = "SMTP_PASSWORD"
	recipientsEnv      = "DIGEST_RECIPIENTS"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	logLevelEnv        = "LOG_LEVEL"
	portEnv            = "PORT"
	runOnStartupEnv    = "RUN_ON_STARTUP"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Server     ServerConfig     `yaml:"server"`
	Scrape     ScrapeConfig     `yaml:"scrape"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Curation   CurationConfig   `yaml:"curation"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Sites      []SiteConfig     `yaml:"sites"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes the SQL backend. Driver is "postgres" or "sqlite".
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig defines when the pipeline should run.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	RunOnStart     bool           `yaml:"runOnStart"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// ServerConfig is the health/metrics listener used by `serve`.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ScrapeConfig bounds how far back scanners look.
type ScrapeConfig struct {
	Lookback  time.Duration `yaml:"lookback"`
	UserAgent string        `yaml:"userAgent"`
}

// SummarizerConfig selects the LLM provider and the stage's retry budget.
type SummarizerConfig struct {
	Provider          string        `yaml:"provider"`
	Endpoint          string        `yaml:"endpoint"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"apiKey"`
	SystemPrompt      string        `yaml:"systemPrompt"`
	MaxTokens         int           `yaml:"maxTokens"`
	Temperature       float64       `yaml:"temperature"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	Workers           int           `yaml:"workers"`
	MaxAttempts       int           `yaml:"maxAttempts"`
	BaseDelay         time.Duration `yaml:"baseDelay"`
	MaxDelay          time.Duration `yaml:"maxDelay"`
	RequestsPerMinute int           `yaml:"requestsPerMinute"`
	RunTimeout        time.Duration `yaml:"runTimeout"`
	// MaxRetryRuns is how many later runs may requeue a transiently failed item.
	// 0 excludes an item for good after its first failed run.
	MaxRetryRuns  int `yaml:"maxRetryRuns"`
	MaxInputChars int `yaml:"maxInputChars"`
}

// CurationConfig drives the keyword scorer.
type CurationConfig struct {
	MinScore float64         `yaml:"minScore"`
	MaxItems int             `yaml:"maxItems"`
	MaxAge   time.Duration   `yaml:"maxAge"`
	Profiles []ProfileConfig `yaml:"profiles"`
}

// ProfileConfig is one interest profile.
type ProfileConfig struct {
	Name     string          `yaml:"name"`
	Keywords []KeywordConfig `yaml:"keywords"`
	Exclude  []string        `yaml:"exclude"`
}

// KeywordConfig is a weighted term.
type KeywordConfig struct {
	Term   string  `yaml:"term"`
	Weight float64 `yaml:"weight"`
}

// DeliveryConfig encapsulates outbound channels. Channel is "email", "telegram" or "log".
type DeliveryConfig struct {
	Channel    string         `yaml:"channel"`
	Recipients []string       `yaml:"recipients"`
	Email      EmailConfig    `yaml:"email"`
	Telegram   TelegramConfig `yaml:"telegram"`
}

// EmailConfig carries SMTP settings.
type EmailConfig struct {
	SMTPHost    string `yaml:"smtpHost"`
	SMTPPort    int    `yaml:"smtpPort"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	From        string `yaml:"from"`
	ReaderName  string `yaml:"readerName"`
	SubjectLine string `yaml:"subjectLine"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
	APIBase  string `yaml:"apiBase"`
}

// SiteConfig describes a single site with its scanner strategy.
type SiteConfig struct {
	Name    string            `yaml:"name"`
	Scanner string            `yaml:"scanner"`
	Feeds   []FeedConfig      `yaml:"feeds"`
	Options map[string]string `yaml:"options"`
}

// FeedConfig holds a concrete endpoint to crawl.
type FeedConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads YAML configuration (if present), expands ${VAR} references, applies
// environment overrides and validates the result. An empty path falls back to
// NEWS_DIGEST_CONFIG, and to pure defaults when that is unset too.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(raw))), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// expandEnvVars replaces ${NAME} with the variable's value; unknown names stay as written.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(summarizerKeyEnv); v != "" {
		c.Summarizer.APIKey = v
	}
	if v := os.Getenv(summarizerModelEnv); v != "" {
		c.Summarizer.Model = v
	}

	if v := os.Getenv(smtpUsernameEnv); v != "" {
		c.Delivery.Email.Username = v
	}
	if v := os.Getenv(smtpPasswordEnv); v != "" {
		c.Delivery.Email.Password = v
	}
	if v := os.Getenv(recipientsEnv); v != "" {
		c.Delivery.Recipients = splitList(v)
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Delivery.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Delivery.Telegram.ChatID = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(portEnv); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv(runOnStartupEnv); v != "" {
		c.Scheduler.RunOnStart = strings.EqualFold(v, "true") || v == "1"
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

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported (postgres, sqlite)", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	s := c.Summarizer
	switch s.Provider {
	case "chatgpt", "anthropic", "inference":
	default:
		errs = append(errs, fmt.Errorf("summarizer.provider %q is not supported (chatgpt, anthropic, inference)", s.Provider))
	}
	if s.Workers < 1 {
		errs = append(errs, errors.New("summarizer.workers must be at least 1"))
	}
	if s.MaxAttempts < 1 {
		errs = append(errs, errors.New("summarizer.maxAttempts must be at least 1"))
	}
	if s.BaseDelay < 0 || s.MaxDelay < s.BaseDelay {
		errs = append(errs, errors.New("summarizer.maxDelay must be >= baseDelay >= 0"))
	}
	if s.MaxRetryRuns < 0 {
		errs = append(errs, errors.New("summarizer.maxRetryRuns must not be negative"))
	}

	if c.Curation.MaxItems < 0 {
		errs = append(errs, errors.New("curation.maxItems must not be negative"))
	}

	d := c.Delivery
	switch d.Channel {
	case "log":
	case "email":
		if d.Email.SMTPHost == "" || d.Email.From == "" {
			errs = append(errs, errors.New("delivery.email.smtpHost and delivery.email.from are required for email delivery"))
		}
		if len(d.Recipients) == 0 {
			errs = append(errs, errors.New("delivery.recipients is required for email delivery"))
		}
	case "telegram":
		if d.Telegram.BotToken == "" || d.Telegram.ChatID == "" {
			errs = append(errs, errors.New("delivery.telegram.botToken and chatId are required for telegram delivery"))
		}
	default:
		errs = append(errs, fmt.Errorf("delivery.channel %q is not supported (email, telegram, log)", d.Channel))
	}

	for i, site := range c.Sites {
		if site.Name == "" || site.Scanner == "" {
			errs = append(errs, fmt.Errorf("sites[%d]: name and scanner are required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Database:  DatabaseConfig{Driver: "sqlite", DSN: "newsdigest.db"},
		Scheduler: SchedulerConfig{CronExpression: "30 13 * * *", Timezone: defaultTimezone, location: tz},
		Server:    ServerConfig{Addr: ":8080"},
		Scrape:    ScrapeConfig{Lookback: 24 * time.Hour, UserAgent: "NewsDigest/1.0"},
		Summarizer: SummarizerConfig{
			Provider:          "chatgpt",
			Endpoint:          "https://api.openai.com/v1/chat/completions",
			Model:             "gpt-4o-mini",
			SystemPrompt:      defaultSystemPrompt,
			MaxTokens:         512,
			Temperature:       0.3,
			RequestTimeout:    60 * time.Second,
			Workers:           4,
			MaxAttempts:       5,
			BaseDelay:         time.Second,
			MaxDelay:          30 * time.Second,
			RequestsPerMinute: 30,
			RunTimeout:        20 * time.Minute,
			MaxRetryRuns:      1,
			MaxInputChars:     12000,
		},
		Curation: CurationConfig{
			MinScore: 3,
			MaxItems: 10,
			MaxAge:   168 * time.Hour,
			Profiles: []ProfileConfig{defaultProfile()},
		},
		Delivery: DeliveryConfig{
			Channel: "log",
			Email:   EmailConfig{SMTPPort: 587, ReaderName: "AI Researcher"},
		},
		Sites: []SiteConfig{
			{
				Name:    "OpenAI",
				Scanner: "rss",
				Feeds:   []FeedConfig{{Name: "news", URL: "https://openai.com/news/rss.xml"}},
			},
			{
				Name:    "Anthropic",
				Scanner: "rss",
				Feeds: []FeedConfig{
					{Name: "news", URL: "https://raw.githubusercontent.com/Olshansk/rss-feeds/main/feeds/feed_anthropic_news.xml"},
					{Name: "engineering", URL: "https://raw.githubusercontent.com/Olshansk/rss-feeds/main/feeds/feed_anthropic_engineering.xml"},
					{Name: "research", URL: "https://raw.githubusercontent.com/Olshansk/rss-feeds/main/feeds/feed_anthropic_research.xml"},
				},
				Options: map[string]string{"includeContent": "true"},
			},
			{
				Name:    "YouTube",
				Scanner: "youtube",
				Feeds:   []FeedConfig{{Name: "Matthew Berman", URL: "UCawZsQWqfGSbCI5yjkdVkTA"}},
			},
		},
	}
}

func defaultProfile() ProfileConfig {
	return ProfileConfig{
		Name: "AI Researcher",
		Keywords: []KeywordConfig{
			{Term: "large language model", Weight: 3},
			{Term: "LLM", Weight: 3},
			{Term: "alignment", Weight: 4},
			{Term: "safety", Weight: 3},
			{Term: "interpretability", Weight: 5},
			{Term: "scaling", Weight: 4},
			{Term: "evaluation", Weight: 3},
			{Term: "reasoning", Weight: 2},
			{Term: "research", Weight: 2},
			{Term: "machine learning", Weight: 2},
		},
		Exclude: []string{"marketing", "product announcement"},
	}
}

const defaultSystemPrompt = `You are an expert at creating summaries of articles and videos for a daily AI news digest.
Write a concise 2-3 sentence summary that highlights the key points and explains why it matters.
Be specific about technical details and practical implications. Reply with the summary text only.`
