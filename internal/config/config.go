// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Archive   ArchiveConfig   `mapstructure:"archive"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Annotator AnnotatorConfig `mapstructure:"annotator"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// ArchiveConfig governs the archiving batch.
type ArchiveConfig struct {
	DataDir         string   `mapstructure:"data_dir"`
	OutputBase      string   `mapstructure:"output_base"`
	Fields          []string `mapstructure:"fields"`
	Exclude         []string `mapstructure:"exclude"`
	IDKey           string   `mapstructure:"id_key"`
	MaxRedirects    int      `mapstructure:"max_redirects"`
	RedirectDelayMs int      `mapstructure:"redirect_delay_ms"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	HostRPS        float64 `mapstructure:"host_rps"`
	HostBurst      int     `mapstructure:"host_burst"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// AnnotatorConfig controls the annotation server.
type AnnotatorConfig struct {
	Port         int    `mapstructure:"port"`
	DBPath       string `mapstructure:"db_path"`
	PostsDir     string `mapstructure:"posts_dir"`
	TemplatePath string `mapstructure:"template_path"`
}

// MetricsConfig controls the Prometheus endpoint of the archive command.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// StorageConfig selects the optional GCS mirror.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres ledger.
type DBConfig struct {
	DSN        string `mapstructure:"dsn"`
	Table      string `mapstructure:"table"`
	BatchTable string `mapstructure:"batch_table"`
	MaxConns   int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for batch-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("archive.data_dir", "/var/lib/rivoluz")
	v.SetDefault("archive.output_base", "/var/lib/rivoluz")
	v.SetDefault("archive.fields", []string{"Post1", "Post2", "Post3"})
	v.SetDefault("archive.exclude", []string{"s180975.json", "s178682.json"})
	v.SetDefault("archive.id_key", "Matricola")
	v.SetDefault("archive.max_redirects", 16)
	v.SetDefault("archive.redirect_delay_ms", 1000)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "post-archiver/1.0")
	v.SetDefault("http.host_rps", 0)
	v.SetDefault("http.host_burst", 1)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("annotator.port", 8000)
	v.SetDefault("annotator.db_path", "annotations.json")
	v.SetDefault("annotator.posts_dir", "/var/lib/rivoluz")
	v.SetDefault("annotator.template_path", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "posts")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "post_archives")
	v.SetDefault("db.batch_table", "archive_batches")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Archive.DataDir == "" {
		return fmt.Errorf("archive.data_dir is required")
	}
	if c.Archive.OutputBase == "" {
		return fmt.Errorf("archive.output_base is required")
	}
	if len(c.Archive.Fields) == 0 {
		return fmt.Errorf("archive.fields must list at least one post field")
	}
	for _, f := range c.Archive.Fields {
		if f == "" || strings.ContainsAny(f, `/\`) {
			return fmt.Errorf("archive.fields contains invalid field %q", f)
		}
	}
	if c.Archive.IDKey == "" {
		return fmt.Errorf("archive.id_key is required")
	}
	if c.Archive.MaxRedirects <= 0 {
		return fmt.Errorf("archive.max_redirects must be > 0")
	}
	if c.Archive.RedirectDelayMs < 0 {
		return fmt.Errorf("archive.redirect_delay_ms must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.HostRPS < 0 {
		return fmt.Errorf("http.host_rps must be >= 0")
	}
	if c.Annotator.Port <= 0 || c.Annotator.Port > 65535 {
		return fmt.Errorf("annotator.port must be between 1 and 65535")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// ValidateField checks a post field argument against the configured set.
func (c Config) ValidateField(field string) error {
	if !slices.Contains(c.Archive.Fields, field) {
		return fmt.Errorf("invalid post field %q: must be one of %s", field, strings.Join(c.Archive.Fields, ", "))
	}
	return nil
}

// RedirectDelay converts the configured pause into a duration. A zero value
// disables the pause.
func (c Config) RedirectDelay() time.Duration {
	if c.Archive.RedirectDelayMs == 0 {
		return -1
	}
	return time.Duration(c.Archive.RedirectDelayMs) * time.Millisecond
}

// HTTPTimeout converts the HTTP timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
