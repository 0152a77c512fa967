package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/andresuchdata/history-extracts/internal/domain"
)

type Config struct {
	Paths    PathsConfig
	Catalog  CatalogConfig
	Fetch    FetchConfig
	Checksum ChecksumConfig
	Splitter SplitterConfig
	Publish  PublishConfig
	Notify   NotifyConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Metrics  MetricsConfig
	Server   ServerConfig
	Log      LogConfig
}

type PathsConfig struct {
	WorkDir     string
	SnapshotDir string
	OutputRoot  string
	ConfigExt   string
}

// Layout converts the configured paths into the domain layout.
func (p PathsConfig) Layout() domain.Layout {
	return domain.Layout{
		WorkDir:     p.WorkDir,
		SnapshotDir: p.SnapshotDir,
		OutputRoot:  p.OutputRoot,
	}
}

type CatalogConfig struct {
	Backend     string
	BaseURL     string
	Pattern     string
	MaxRetries  int
	RPS         int
	HTTPTimeout time.Duration
}

type FetchConfig struct {
	Backend  string
	WgetPath string
}

type ChecksumConfig struct {
	Backend    string
	MD5SumPath string
}

type SplitterConfig struct {
	Tool          string
	Workers       int
	Timeout       time.Duration
	FailurePolicy domain.FailurePolicy
}

type PublishConfig struct {
	PointerMode domain.PointerMode
}

type NotifyConfig struct {
	Backend       string
	RedisChannel  string
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	SMTPAddr      string
	SMTPUser      string
	SMTPPassword  string
	MailFrom      string
	MailTo        []string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
}

type DatabaseConfig struct {
	URL string
}

type MetricsConfig struct {
	Textfile string
}

type ServerConfig struct {
	Port           string
	Mode           string
	AllowedOrigins []string
}

type LogConfig struct {
	Level string
}

// DefaultPattern matches the newest full-history dump in the archive index.
const DefaultPattern = `history-([^.]+)\.osm\.pbf`

var (
	once     sync.Once
	instance *Config
	loadErr  error
)

// Load reads .env and the environment once and returns the shared Config.
func Load() (*Config, error) {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()
		instance, loadErr = FromEnv()
	})

	return instance, loadErr
}

// FromEnv builds a Config from the current environment on a fresh viper
// instance. It does not touch .env files.
func FromEnv() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Read from environment variables
	v.AutomaticEnv()

	policy, err := domain.ParseFailurePolicy(v.GetString("SPLITTER_FAILURE_POLICY"))
	if err != nil {
		return nil, err
	}
	pointerMode, err := domain.ParsePointerMode(v.GetString("PUBLISH_POINTER_MODE"))
	if err != nil {
		return nil, err
	}

	workDir, err := filepath.Abs(v.GetString("WORK_DIR"))
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}

	cfg := &Config{
		Paths: PathsConfig{
			WorkDir:     workDir,
			SnapshotDir: resolve(workDir, v.GetString("SNAPSHOT_DIR")),
			OutputRoot:  resolve(workDir, v.GetString("OUTPUT_ROOT")),
			ConfigExt:   v.GetString("CONFIG_EXT"),
		},
		Catalog: CatalogConfig{
			Backend:     strings.ToLower(v.GetString("CATALOG_BACKEND")),
			BaseURL:     v.GetString("CATALOG_BASE_URL"),
			Pattern:     v.GetString("CATALOG_PATTERN"),
			MaxRetries:  v.GetInt("CATALOG_MAX_RETRIES"),
			RPS:         v.GetInt("CATALOG_RPS"),
			HTTPTimeout: time.Duration(v.GetInt("HTTP_TIMEOUT_SECONDS")) * time.Second,
		},
		Fetch: FetchConfig{
			Backend:  strings.ToLower(v.GetString("FETCH_BACKEND")),
			WgetPath: v.GetString("WGET_PATH"),
		},
		Checksum: ChecksumConfig{
			Backend:    strings.ToLower(v.GetString("CHECKSUM_BACKEND")),
			MD5SumPath: v.GetString("MD5SUM_PATH"),
		},
		Splitter: SplitterConfig{
			Tool:          v.GetString("SPLITTER_TOOL"),
			Workers:       v.GetInt("SPLITTER_WORKERS"),
			Timeout:       v.GetDuration("SPLITTER_TIMEOUT"),
			FailurePolicy: policy,
		},
		Publish: PublishConfig{
			PointerMode: pointerMode,
		},
		Notify: NotifyConfig{
			Backend:       strings.ToLower(v.GetString("NOTIFY_BACKEND")),
			RedisChannel:  v.GetString("NOTIFY_REDIS_CHANNEL"),
			RedisURL:      v.GetString("REDIS_URL"),
			RedisHost:     v.GetString("REDIS_HOST"),
			RedisPort:     v.GetString("REDIS_PORT"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			SMTPAddr:      v.GetString("SMTP_ADDR"),
			SMTPUser:      v.GetString("SMTP_USER"),
			SMTPPassword:  v.GetString("SMTP_PASSWORD"),
			MailFrom:      v.GetString("MAIL_FROM"),
			MailTo:        splitList(v.GetStringSlice("MAIL_TO")),
		},
		Storage: StorageConfig{
			Endpoint:  v.GetString("S3_ENDPOINT"),
			AccessKey: v.GetString("S3_ACCESS_KEY"),
			SecretKey: v.GetString("S3_SECRET_KEY"),
			Bucket:    v.GetString("S3_BUCKET"),
			Prefix:    v.GetString("S3_PREFIX"),
			Region:    v.GetString("S3_REGION"),
			UseSSL:    v.GetBool("S3_USE_SSL"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("DATABASE_URL"),
		},
		Metrics: MetricsConfig{
			Textfile: v.GetString("METRICS_TEXTFILE"),
		},
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			AllowedOrigins: splitList(v.GetStringSlice("SERVER_ALLOWED_ORIGINS")),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("WORK_DIR", ".")
	v.SetDefault("SNAPSHOT_DIR", "full-history")
	v.SetDefault("OUTPUT_ROOT", "full-history-extracts")
	v.SetDefault("CONFIG_EXT", ".conf")
	v.SetDefault("CATALOG_BACKEND", "http")
	v.SetDefault("CATALOG_BASE_URL", "http://planet.osm.org/planet/experimental/")
	v.SetDefault("CATALOG_PATTERN", DefaultPattern)
	v.SetDefault("CATALOG_MAX_RETRIES", 3)
	v.SetDefault("CATALOG_RPS", 2)
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 30)
	v.SetDefault("FETCH_BACKEND", "wget")
	v.SetDefault("WGET_PATH", "wget")
	v.SetDefault("CHECKSUM_BACKEND", "md5sum")
	v.SetDefault("MD5SUM_PATH", "md5sum")
	v.SetDefault("SPLITTER_TOOL", "/usr/bin/osm-history-splitter")
	v.SetDefault("SPLITTER_WORKERS", 1)
	v.SetDefault("SPLITTER_TIMEOUT", "48h")
	v.SetDefault("SPLITTER_FAILURE_POLICY", "continue")
	v.SetDefault("PUBLISH_POINTER_MODE", "rename")
	v.SetDefault("NOTIFY_BACKEND", "log")
	v.SetDefault("NOTIFY_REDIS_CHANNEL", "history-extracts")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SMTP_ADDR", "localhost:25")
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_FROM", "history-extracts@localhost")
	v.SetDefault("MAIL_TO", []string{})
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_PREFIX", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_USE_SSL", true)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("METRICS_TEXTFILE", "")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "release")
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("LOG_LEVEL", "info")
}

// Validate rejects settings the run cannot start with.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Paths.ConfigExt, ".") {
		return fmt.Errorf("CONFIG_EXT must start with a dot, got %q", c.Paths.ConfigExt)
	}
	switch c.Catalog.Backend {
	case "http", "s3":
	default:
		return fmt.Errorf("unknown CATALOG_BACKEND %q", c.Catalog.Backend)
	}
	switch c.Fetch.Backend {
	case "wget", "http", "s3":
	default:
		return fmt.Errorf("unknown FETCH_BACKEND %q", c.Fetch.Backend)
	}
	switch c.Checksum.Backend {
	case "md5sum", "native":
	default:
		return fmt.Errorf("unknown CHECKSUM_BACKEND %q", c.Checksum.Backend)
	}
	switch c.Notify.Backend {
	case "log", "redis", "mail", "none":
	default:
		return fmt.Errorf("unknown NOTIFY_BACKEND %q", c.Notify.Backend)
	}
	if c.Notify.Backend == "mail" && len(c.Notify.MailTo) == 0 {
		return fmt.Errorf("MAIL_TO is required for the mail notifier")
	}
	if (c.Catalog.Backend == "s3" || c.Fetch.Backend == "s3") && c.Storage.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required for the s3 backend")
	}
	if c.Splitter.Tool == "" {
		return fmt.Errorf("SPLITTER_TOOL must be set")
	}
	if c.Splitter.Workers < 1 {
		c.Splitter.Workers = 1
	}
	if c.Catalog.MaxRetries < 0 {
		c.Catalog.MaxRetries = 0
	}
	if c.Catalog.RPS < 1 {
		c.Catalog.RPS = 1
	}
	return nil
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}

// splitList flattens comma separated entries; viper hands env lists over as
// a single element.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
