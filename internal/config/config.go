package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	DevActor      string `mapstructure:"dev_actor"`
	DevToken      string `mapstructure:"dev_token"`
	Server        struct {
		Address         string        `mapstructure:"address"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	DB struct {
		Enabled  bool   `mapstructure:"enabled"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	GitHub struct {
		BaseURL       string        `mapstructure:"base_url"`
		WebURL        string        `mapstructure:"web_url"`
		DefaultBranch string        `mapstructure:"default_branch"` // empty targets each repository's own default
		SettleDelay   time.Duration `mapstructure:"settle_delay"`
		RunPageSize   int           `mapstructure:"run_page_size"`
		RepoPageSize  int           `mapstructure:"repo_page_size"`
	} `mapstructure:"github"`
	Log struct {
		Level      string `mapstructure:"level"`
		Format     string `mapstructure:"format"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`
	Telemetry struct {
		Enabled        bool          `mapstructure:"enabled"`
		Endpoint       string        `mapstructure:"endpoint"`
		Insecure       bool          `mapstructure:"insecure"`
		ServiceName    string        `mapstructure:"service_name"`
		ExportInterval time.Duration `mapstructure:"export_interval"`
	} `mapstructure:"telemetry"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// DatabaseURL returns a postgres:// URL for the configured database.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

// LoadConfig loads the configuration from an optional .env file, a config
// file and the environment. Environment variables use the PROVISIONER_
// prefix with dots replaced by underscores (PROVISIONER_GITHUB_SETTLE_DELAY).
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("PROVISIONER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	config.GitHub.WebURL = strings.TrimRight(strings.TrimSpace(config.GitHub.WebURL), "/")
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("dev_actor", "dev@localhost")
	v.SetDefault("dev_token", "")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("db.enabled", false)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "provisioner")
	v.SetDefault("db.sslmode", "disable")

	v.SetDefault("github.base_url", "")
	v.SetDefault("github.web_url", "https://github.com")
	v.SetDefault("github.default_branch", "")
	v.SetDefault("github.settle_delay", 2*time.Second)
	v.SetDefault("github.run_page_size", 10)
	v.SetDefault("github.repo_page_size", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "workflow-provisioner")
	v.SetDefault("telemetry.export_interval", 30*time.Second)

	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.hostnames", []string{})
}
