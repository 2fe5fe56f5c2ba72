// Package config loads runtime settings from an optional YAML file, FINANCE_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. FINANCE_DATABASE_DSN.
const EnvPrefix = "FINANCE"

// Config is the full runtime configuration.
type Config struct {
	Database       DatabaseConfig       `mapstructure:"database"`
	Import         ImportConfig         `mapstructure:"import"`
	Dedup          DedupConfig          `mapstructure:"dedup"`
	Detect         DetectConfig         `mapstructure:"detect"`
	Store          StoreConfig          `mapstructure:"store"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Reconcile      ReconcileConfig      `mapstructure:"reconcile"`
	ProfilesFile   string               `mapstructure:"profiles_file"`
	GCS            GCSConfig            `mapstructure:"gcs"`
	BigQuery       BigQueryConfig       `mapstructure:"bigquery"`
	API            APIConfig            `mapstructure:"api"`
	Log            LogConfig            `mapstructure:"log"`
	Secrets        SecretsConfig        `mapstructure:"secrets"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

type ImportConfig struct {
	Workers int `mapstructure:"workers" validate:"min=1,max=64"`
}

type DedupConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" validate:"gt=0,lte=1"`
}

// DetectWeights are the per-signal contributions to a detection score.
type DetectWeights struct {
	Format   float64 `mapstructure:"format" validate:"gte=0"`
	Keyword  float64 `mapstructure:"keyword" validate:"gte=0"`
	Filename float64 `mapstructure:"filename" validate:"gte=0"`
	Country  float64 `mapstructure:"country" validate:"gte=0"`
}

type DetectConfig struct {
	TopN    int           `mapstructure:"top_n" validate:"min=1"`
	Country string        `mapstructure:"country"`
	Weights DetectWeights `mapstructure:"weights"`
}

// StoreConfig controls the retry loop used when the database reports it is busy.
type StoreConfig struct {
	BusyRetries      int           `mapstructure:"busy_retries" validate:"min=1"`
	BusyInitialDelay time.Duration `mapstructure:"busy_initial_delay" validate:"gt=0"`
	BusyMaxDelay     time.Duration `mapstructure:"busy_max_delay" validate:"gtefield=BusyInitialDelay"`
}

type ReconciliationConfig struct {
	Strict bool `mapstructure:"strict"`
}

type ReconcileConfig struct {
	DateWindowDays int `mapstructure:"date_window_days" validate:"min=0,max=31"`
}

type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

type BigQueryConfig struct {
	Project string `mapstructure:"project"`
	Dataset string `mapstructure:"dataset"`
}

type APIConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error fatal disabled"`
}

// SecretsConfig holds statement passwords. They are read from the
// conventional HDFC_PDF_PASSWORD and ICICI_PDF_PASSWORD variables.
type SecretsConfig struct {
	HDFCPDFPassword  string `mapstructure:"hdfc_pdf_password"`
	ICICIPDFPassword string `mapstructure:"icici_pdf_password"`
}

// PasswordFor returns the configured statement password for an issuing entity.
func (s SecretsConfig) PasswordFor(entity string) string {
	switch strings.ToLower(entity) {
	case "hdfc":
		return s.HDFCPDFPassword
	case "icici":
		return s.ICICIPDFPassword
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "finance.db")
	v.SetDefault("import.workers", 4)
	v.SetDefault("dedup.similarity_threshold", 0.80)
	v.SetDefault("detect.top_n", 3)
	v.SetDefault("detect.country", "IN")
	v.SetDefault("detect.weights.format", 0.3)
	v.SetDefault("detect.weights.keyword", 0.3)
	v.SetDefault("detect.weights.filename", 0.2)
	v.SetDefault("detect.weights.country", 0.2)
	v.SetDefault("store.busy_retries", 5)
	v.SetDefault("store.busy_initial_delay", 50*time.Millisecond)
	v.SetDefault("store.busy_max_delay", 2*time.Second)
	v.SetDefault("reconciliation.strict", false)
	v.SetDefault("reconcile.date_window_days", 2)
	v.SetDefault("profiles_file", "")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("bigquery.project", "")
	v.SetDefault("bigquery.dataset", "finance")
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("secrets.hdfc_pdf_password", "")
	v.SetDefault("secrets.icici_pdf_password", "")
}

// Load reads configuration. path may be empty, in which case only defaults and
// environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("secrets.hdfc_pdf_password", "HDFC_PDF_PASSWORD"); err != nil {
		return nil, fmt.Errorf("Load: binding env: %w", err)
	}
	if err := v.BindEnv("secrets.icici_pdf_password", "ICICI_PDF_PASSWORD"); err != nil {
		return nil, fmt.Errorf("Load: binding env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("Load: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("Load: decoding config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and reports every violation at once.
func Validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("Validate: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (%s)", e.Namespace(), e.Tag(), e.Param()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
