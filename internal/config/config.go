package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all settings for ingestion and querying.
type Config struct {
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	GitHub     GitHubConfig     `yaml:"github" mapstructure:"github"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Query      QueryConfig      `yaml:"query" mapstructure:"query"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
}

type StorageConfig struct {
	Type        string `yaml:"type" mapstructure:"type"` // "sqlite", "postgres"
	PostgresDSN string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	LocalPath   string `yaml:"local_path" mapstructure:"local_path"`
}

type GitHubConfig struct {
	Token       string   `yaml:"token" mapstructure:"token"`
	RateFloor   int      `yaml:"rate_floor" mapstructure:"rate_floor"`
	HourlyQuota int      `yaml:"hourly_quota" mapstructure:"hourly_quota"`
	BotSuffixes []string `yaml:"bot_suffixes" mapstructure:"bot_suffixes"`
}

type IngestConfig struct {
	MaxPages    int           `yaml:"max_pages" mapstructure:"max_pages"`
	MaxDuration time.Duration `yaml:"max_duration" mapstructure:"max_duration"`
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
}

type QueryConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Limit   int           `yaml:"limit" mapstructure:"limit"`
}

type CacheConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Password string        `yaml:"password" mapstructure:"password"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

type CheckpointConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	base := filepath.Join(homeDir, ".contribgraph")

	return &Config{
		Storage: StorageConfig{
			Type:      "sqlite",
			LocalPath: filepath.Join(base, "graph.db"),
		},
		GitHub: GitHubConfig{
			RateFloor:   100,
			HourlyQuota: 5000,
		},
		Ingest: IngestConfig{
			Concurrency: 3,
		},
		Query: QueryConfig{
			Timeout: 10 * time.Second,
			Limit:   10,
		},
		Cache: CacheConfig{
			Addr: "localhost:6379",
			TTL:  15 * time.Minute,
		},
		Checkpoint: CheckpointConfig{
			Path: filepath.Join(base, "checkpoints.db"),
		},
	}
}

// Load reads configuration from file, environment, and .env files.
// Precedence: environment variables, then the config file, then defaults.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("github", cfg.GitHub)
	v.SetDefault("ingest", cfg.Ingest)
	v.SetDefault("query", cfg.Query)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("checkpoint", cfg.Checkpoint)

	v.SetEnvPrefix("CCGRAPH")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".contribgraph")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".contribgraph"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file is fine, defaults apply.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("storage.local_path is required for sqlite")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	if c.Checkpoint.Path == "" {
		return fmt.Errorf("checkpoint.path is required")
	}
	return nil
}

func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnv := filepath.Join(homeDir, ".contribgraph", ".env")
	if _, err := os.Stat(homeEnv); err == nil {
		godotenv.Load(homeEnv)
	}
}

func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}
	if floor := os.Getenv("GITHUB_RATE_FLOOR"); floor != "" {
		if n, err := strconv.Atoi(floor); err == nil {
			cfg.GitHub.RateFloor = n
		}
	}
	if quota := os.Getenv("GITHUB_HOURLY_QUOTA"); quota != "" {
		if n, err := strconv.Atoi(quota); err == nil {
			cfg.GitHub.HourlyQuota = n
		}
	}

	if storageType := os.Getenv("STORAGE_TYPE"); storageType != "" {
		cfg.Storage.Type = storageType
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if path := os.Getenv("LOCAL_DB_PATH"); path != "" {
		cfg.Storage.LocalPath = expandPath(path)
	}

	if path := os.Getenv("CHECKPOINT_PATH"); path != "" {
		cfg.Checkpoint.Path = expandPath(path)
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Cache.Addr = addr
		cfg.Cache.Enabled = true
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Cache.Password = password
	}

	if pages := os.Getenv("INGEST_MAX_PAGES"); pages != "" {
		if n, err := strconv.Atoi(pages); err == nil {
			cfg.Ingest.MaxPages = n
		}
	}
	if concurrency := os.Getenv("INGEST_CONCURRENCY"); concurrency != "" {
		if n, err := strconv.Atoi(concurrency); err == nil {
			cfg.Ingest.Concurrency = n
		}
	}
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, path[1:])
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("storage", c.Storage)
	v.Set("github", c.GitHub)
	v.Set("ingest", c.Ingest)
	v.Set("query", c.Query)
	v.Set("cache", c.Cache)
	v.Set("checkpoint", c.Checkpoint)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
