package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Proxy       ProxyConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	S3          S3Config
	LLM         LLMConfig
	Extraction  ExtractionConfig
	Fetch       FetchConfig
	Browser     BrowserConfig
	Scheduler   SchedulerConfig
	Retry       RetryConfig
	Maintenance MaintenanceConfig
	DBPath      string
	LogFile     string
	LogLevel    string
	MetricsAddr string
	SitesDir    string
	Sites       map[string]*SiteConfig
}

type ProxyConfig struct {
	URL string
}

type PostgresConfig struct {
	DBURL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LeaseTTL time.Duration
}

type BrowserConfig struct {
	ProfileDir string
	Headless   bool
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether raw HTML snapshots should be archived.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type LLMConfig struct {
	BaseURL          string
	Model            string
	Temperature      float64
	ContextWindow    int
	JSONOutput       bool
	RepeatPenalty    float64
	PresencePenalty  float64
	FrequencyPenalty float64
	Timeout          time.Duration
}

type ExtractionConfig struct {
	UFRate      float64
	TokenBudget int
	CharsPerTok int
	MaxListings int
}

// CharBudget is the reduced-content ceiling handed to the LLM.
func (c ExtractionConfig) CharBudget() int {
	return c.TokenBudget * c.CharsPerTok
}

type FetchConfig struct {
	Timeout time.Duration
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
	Workers  int
}

type RetryConfig struct {
	MaxRetries int
	BaseDelay   time.Duration
}

type MaintenanceConfig struct {
	LogRetentionDays int
	FailureThreshold int
	ReclaimInterval  time.Duration
}

type SiteConfig struct {
	ID          string       `yaml:"id" validate:"required"`
	Name        string       `yaml:"name" validate:"required"`
	Match       string       `yaml:"match" validate:"required"`
	Fetcher     string       `yaml:"fetcher" validate:"omitempty,oneof=http browser"`
	RateLimitMS int          `yaml:"rate_limit_ms" validate:"gte=0"`
	Hint        string       `yaml:"hint"`
	Sources     []SourceSeed `yaml:"sources" validate:"dive"`
}

type SourceSeed struct {
	URL            string `yaml:"url" validate:"required,url"`
	Description    string `yaml:"description"`
	Priority       string `yaml:"priority" validate:"omitempty,oneof=low medium high"`
	FrequencyHours int    `yaml:"frequency_hours" validate:"gte=0"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Postgres: PostgresConfig{
			DBURL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
			LeaseTTL: getEnvDuration("LEASE_TTL", 30*time.Minute),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		LLM: LLMConfig{
			BaseURL:          getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			Model:            getEnv("OLLAMA_MODEL", "llama3.1:8b"),
			Temperature:      getEnvFloat("LLM_TEMPERATURE", 0.1),
			ContextWindow:    getEnvInt("LLM_CONTEXT_WINDOW", 8192),
			JSONOutput:       getEnv("LLM_JSON_OUTPUT", "true") == "true",
			RepeatPenalty:    getEnvFloat("LLM_REPEAT_PENALTY", 1.1),
			PresencePenalty:  getEnvFloat("LLM_PRESENCE_PENALTY", 0),
			FrequencyPenalty: getEnvFloat("LLM_FREQUENCY_PENALTY", 0),
			Timeout:          getEnvDuration("LLM_TIMEOUT", 5*time.Minute),
		},
		Extraction: ExtractionConfig{
			UFRate:      getEnvFloat("UF_RATE", 37000),
			TokenBudget: getEnvInt("CONTENT_TOKEN_BUDGET", 6000),
			CharsPerTok: 4,
			MaxListings: getEnvInt("HEURISTIC_MAX_CONTAINERS", 30),
		},
		Fetch: FetchConfig{
			Timeout: getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		},
		Browser: BrowserConfig{
			ProfileDir: getEnv("BROWSER_PROFILE_DIR", "browser-profile"),
			Headless:   getEnv("BROWSER_HEADLESS", "true") == "true",
		},
		Scheduler: SchedulerConfig{
			Cron:    os.Getenv("SCRAPE_CRON"),
			Workers: getEnvInt("SCRAPE_WORKERS", 3),
		},
		Retry: RetryConfig{
			MaxRetries: getEnvInt("RETRY_MAX_RETRIES", 3),
			BaseDelay:   getEnvDuration("RETRY_BASE_DELAY", 60*time.Second),
		},
		Maintenance: MaintenanceConfig{
			LogRetentionDays: getEnvInt("LOG_RETENTION_DAYS", 30),
			FailureThreshold: getEnvInt("FAILURE_THRESHOLD", 5),
			ReclaimInterval:  getEnvDuration("RECLAIM_INTERVAL", 10*time.Minute),
		},
		DBPath:      getEnv("DB_PATH", "inmobiscrap.db"),
		LogFile:     getEnv("LOG_FILE", "daemon.log"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		SitesDir:    getEnv("SITES_DIR", "config/sites"),
		Sites:       make(map[string]*SiteConfig),
	}

	cfg.Scheduler.Interval = getEnvDuration("SCRAPE_INTERVAL", 0)

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSiteConfigs() error {
	entries, err := os.ReadDir(c.SitesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	validate := validator.New()
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(c.SitesDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := validate.Struct(&site); err != nil {
			return fmt.Errorf("invalid site config %s: %w", path, err)
		}

		c.Sites[site.ID] = &site
	}

	return nil
}

// SiteFor returns the site whose match substring occurs in url. The longest
// match wins so more specific entries can shadow broad ones.
func (c *Config) SiteFor(url string) *SiteConfig {
	var best *SiteConfig
	lower := strings.ToLower(url)
	for _, site := range c.Sites {
		if site.Match == "" || !strings.Contains(lower, strings.ToLower(site.Match)) {
			continue
		}
		if best == nil || len(site.Match) > len(best.Match) ||
			(len(site.Match) == len(best.Match) && site.ID < best.ID) {
			best = site
		}
	}
	return best
}

// SortedSites returns the site configs ordered by id.
func (c *Config) SortedSites() []*SiteConfig {
	sites := make([]*SiteConfig, 0, len(c.Sites))
	for _, s := range c.Sites {
		sites = append(sites, s)
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].ID < sites[j].ID })
	return sites
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
