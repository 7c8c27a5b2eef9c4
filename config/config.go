package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
)

type Config struct {
	Scheduler SchedulerConfig
	Scraper   ScraperConfig
	Proxy     ProxyConfig
	Postgres  PostgresConfig
	Backup    BackupConfig
	DataDir   string
	DBPath    string
	LogLevel  string
	Sources   map[string]*SourceConfig
	Queries   []models.Query
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ScraperConfig struct {
	DelayMS        int // minimum delay between requests within a session
	RevisitDelayMS int // delay between status-check revisits
	MaxVehicles    int // default per-model target count
}

type ProxyConfig struct {
	URL string
}

type PostgresConfig struct {
	DBURL string // empty disables the event archive
}

type BackupConfig struct {
	Bucket          string // empty disables S3 snapshot backup
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// SourceConfig describes one marketplace, loaded from config/sources/*.yaml.
type SourceConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Handler     string `yaml:"handler"` // browser | http
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	SearchPath  string `yaml:"search_path"`
	RateLimitMS int    `yaml:"rate_limit_ms"`
	MaxPages    int    `yaml:"max_pages"`
	PerPage     int    `yaml:"per_page"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Scraper: ScraperConfig{
			DelayMS:        getEnvInt("SCRAPE_DELAY_MS", 2000),
			RevisitDelayMS: getEnvInt("REVISIT_DELAY_MS", 1500),
			MaxVehicles:    getEnvInt("MAX_VEHICLES", 250),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Postgres: PostgresConfig{
			DBURL: os.Getenv("DATABASE_URL"),
		},
		Backup: BackupConfig{
			Bucket:          os.Getenv("BACKUP_S3_BUCKET"),
			Region:          getEnv("BACKUP_S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("BACKUP_S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("BACKUP_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("BACKUP_S3_SECRET_ACCESS_KEY"),
		},
		DataDir:  getEnv("DATA_DIR", "data"),
		DBPath:   getEnv("DB_PATH", "tracker.db"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Sources:  make(map[string]*SourceConfig),
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadSourceConfigs(); err != nil {
		return nil, err
	}
	if err := cfg.loadQueries(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSourceConfigs() error {
	configDir := "config/sources"
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var src SourceConfig
		if err := yaml.Unmarshal(data, &src); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		c.Sources[src.ID] = &src
	}

	return nil
}

func (c *Config) loadQueries() error {
	path := getEnv("QUERIES_FILE", "config/queries.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var doc struct {
		Queries []models.Query `yaml:"queries"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	c.Queries = doc.Queries
	return nil
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
