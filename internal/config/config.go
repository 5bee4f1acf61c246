package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Server  ServerConfig
	GCP     GCPConfig
	OAuth   OAuthConfig
	Model   ModelConfig
	Sync    SyncConfig
	Archive ArchiveConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string
}

// GCPConfig holds Google Cloud project settings shared by Firestore and GCS.
type GCPConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// OAuthConfig holds the mailbox OAuth client settings.
type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// ModelConfig holds extraction model settings.
type ModelConfig struct {
	Name string
}

// SyncConfig holds fetch/extraction tuning knobs.
type SyncConfig struct {
	ColdStartPageSize int64 `mapstructure:"cold_start_page_size"`
	WarmPageSize      int64 `mapstructure:"warm_page_size"`
	ProcessBatchSize  int   `mapstructure:"process_batch_size"`
}

// ArchiveConfig holds the optional raw-message archive settings.
// An empty bucket disables archival.
type ArchiveConfig struct {
	Bucket string
}

// Load reads configuration from file and env. Env var overrides use prefix
// EXPENSETRACKER_, e.g. EXPENSETRACKER_OAUTH_CLIENT_ID.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.client_secret", "")
	v.SetDefault("oauth.redirect_url", "http://localhost:8080/api/auth/callback")
	v.SetDefault("model.name", "gemini-2.5-flash")
	v.SetDefault("sync.cold_start_page_size", 2)
	v.SetDefault("sync.warm_page_size", 20)
	v.SetDefault("sync.process_batch_size", 10)
	v.SetDefault("archive.bucket", "")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("EXPENSETRACKER_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "expensetracker"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("EXPENSETRACKER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}
