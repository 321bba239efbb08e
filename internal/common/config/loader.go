// internal/common/config/loader.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultBatchLimit   = 100
	DefaultMaxAttempts  = 5
	DefaultGatewayURL   = "https://exp.host/--/api/v2/push/send"
	HistoryPostgres     = "postgres"
	HistoryElastic      = "elasticsearch"
	defaultHistoryIndex = "notifications-history"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml on top
// and applies environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName("config." + env)
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	bindEnv(v)
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// bindEnv lets DATABASE_POSTGRES_PASSWORD style variables override any key,
// including keys that are absent from the yaml files.
func bindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"database.postgres.host", "database.postgres.port", "database.postgres.database",
		"database.postgres.user", "database.postgres.password", "database.postgres.sslmode",
		"database.redis.enabled", "database.redis.address", "database.redis.password",
		"database.elasticsearch.addresses",
		"gateway.url", "gateway.access_token",
		"history.backend",
		"alerts.sns.enabled", "alerts.sns.region", "alerts.sns.topic_arn",
		"logging.level", "logging.format",
		"server.port",
	} {
		_ = v.BindEnv(key)
	}
}

func loadEnvFile() {
	paths := []string{".env", "../.env", "../../.env"}
	if root := findProjectRoot(); root != "" {
		paths = append(paths, filepath.Join(root, ".env"))
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars resolves ${VAR} placeholders left in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok || !strings.Contains(strVal, "$") {
			continue
		}
		if expanded := os.ExpandEnv(strVal); expanded != strVal && expanded != "" {
			v.Set(key, expanded)
		}
	}
}

// overrideEmptyConfig fills credentials from the conventional variable names
// used by the deployment when the yaml leaves them blank.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Database.Postgres.User == "" {
		cfg.Database.Postgres.User = os.Getenv("DB_USER")
	}
	if cfg.Database.Postgres.Password == "" {
		cfg.Database.Postgres.Password = os.Getenv("DB_PASSWORD")
	}
	if cfg.Gateway.AccessToken == "" {
		cfg.Gateway.AccessToken = os.Getenv("PUSH_ACCESS_TOKEN")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "push-dispatcher"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.QueryTimeout == 0 {
		cfg.Database.QueryTimeout = 5000
	}

	if cfg.Dispatcher.DefaultLimit == 0 {
		cfg.Dispatcher.DefaultLimit = DefaultBatchLimit
	}
	if cfg.Dispatcher.MaxAttempts == 0 {
		cfg.Dispatcher.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Dispatcher.Concurrency == 0 {
		cfg.Dispatcher.Concurrency = 8
	}
	if cfg.Dispatcher.LeaseTimeout == 0 {
		cfg.Dispatcher.LeaseTimeout = 600000
	}
	if cfg.Dispatcher.JobTimeout == 0 {
		cfg.Dispatcher.JobTimeout = 30000
	}

	if cfg.Gateway.URL == "" {
		cfg.Gateway.URL = DefaultGatewayURL
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 10000
	}
	if cfg.Gateway.RateLimit == 0 {
		cfg.Gateway.RateLimit = 50
	}
	if cfg.Gateway.RateBurst == 0 {
		cfg.Gateway.RateBurst = 10
	}

	if cfg.Devices.CacheTTL == 0 {
		cfg.Devices.CacheTTL = 60000
	}

	if cfg.History.Backend == "" {
		cfg.History.Backend = HistoryPostgres
	}
	if cfg.History.Index == "" {
		cfg.History.Index = defaultHistoryIndex
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 0.1
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	if cfg.Dispatcher.DefaultLimit < 1 || cfg.Dispatcher.DefaultLimit > DefaultBatchLimit {
		return fmt.Errorf("dispatcher.default_limit must be between 1 and %d", DefaultBatchLimit)
	}
	if cfg.Dispatcher.LeaseTimeout < 0 {
		return fmt.Errorf("dispatcher.lease_timeout must not be negative")
	}

	switch cfg.History.Backend {
	case HistoryPostgres:
	case HistoryElastic:
		if len(cfg.Database.Elasticsearch.Addresses) == 0 {
			return fmt.Errorf("database.elasticsearch.addresses is required for the elasticsearch history backend")
		}
	default:
		return fmt.Errorf("history.backend %q is not supported", cfg.History.Backend)
	}

	if cfg.Database.Redis.Enabled && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required when redis is enabled")
	}
	if cfg.Alerts.SNS.Enabled && cfg.Alerts.SNS.TopicARN == "" {
		return fmt.Errorf("alerts.sns.topic_arn is required when sns alerts are enabled")
	}
	return nil
}
