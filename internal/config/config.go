package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"sigs.k8s.io/yaml"

	"github.com/kubev2v/cutout/internal/util"
)

const (
	DatabaseSqlite   = "sqlite"
	DatabasePostgres = "pgsql"
)

type Config struct {
	Database *dbConfig       `json:"database" validate:"required"`
	Service  *svcConfig      `json:"service" validate:"required"`
	Pipeline *pipelineConfig `json:"pipeline" validate:"required"`
}

type dbConfig struct {
	// HistoryEnabled archives every finished job.
	HistoryEnabled bool   `json:"historyEnabled" envconfig:"CUTOUT_HISTORY_ENABLED" default:"false"`
	HistoryBuffer  int    `json:"historyBuffer" envconfig:"CUTOUT_HISTORY_BUFFER" default:"256" validate:"min=1"`
	Type           string `json:"type" envconfig:"CUTOUT_DB_TYPE" default:"sqlite" validate:"oneof=sqlite pgsql"`
	Hostname       string `json:"hostname" envconfig:"CUTOUT_DB_HOST" default:"localhost"`
	Port           string `json:"port" envconfig:"CUTOUT_DB_PORT" default:"5432"`
	Name           string `json:"name" envconfig:"CUTOUT_DB_NAME" default:"cutout.db" validate:"required"`
	User           string `json:"user" envconfig:"CUTOUT_DB_USER" default:"cutout"`
	Password       string `json:"password" envconfig:"CUTOUT_DB_PASS" default:""`
}

type svcConfig struct {
	Address        string   `json:"address" envconfig:"CUTOUT_ADDRESS" default:":8080" validate:"required"`
	MetricsAddress string   `json:"metricsAddress" envconfig:"CUTOUT_METRICS_ADDRESS" default:""`
	PathPrefix     string   `json:"pathPrefix" envconfig:"CUTOUT_PATH_PREFIX" default:""`
	LogLevel       string   `json:"logLevel" envconfig:"CUTOUT_LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat      string   `json:"logFormat" envconfig:"CUTOUT_LOG_FORMAT" default:"console" validate:"oneof=console json"`
	CorsOrigins    []string `json:"corsOrigins" envconfig:"CUTOUT_CORS_ORIGINS" default:"*"`
	MaxUploadBytes int64    `json:"maxUploadBytes" envconfig:"CUTOUT_MAX_UPLOAD_BYTES" default:"33554432" validate:"min=1"`
}

type pipelineConfig struct {
	PreprocessWorkers    int           `json:"preprocessWorkers" envconfig:"CUTOUT_PREPROCESS_WORKERS" default:"2" validate:"min=1,max=64"`
	SegmentationWorkers  int           `json:"segmentationWorkers" envconfig:"CUTOUT_SEGMENTATION_WORKERS" default:"2" validate:"min=1,max=64"`
	PostprocessWorkers   int           `json:"postprocessWorkers" envconfig:"CUTOUT_POSTPROCESS_WORKERS" default:"2" validate:"min=1,max=64"`
	InitTimeout          util.Duration `json:"initTimeout" envconfig:"CUTOUT_INIT_TIMEOUT" default:"2s" validate:"gt=0"`
	InitRetryBackoff     util.Duration `json:"initRetryBackoff" envconfig:"CUTOUT_INIT_RETRY_BACKOFF" default:"500ms" validate:"gt=0"`
	InitMaxRetries       int           `json:"initMaxRetries" envconfig:"CUTOUT_INIT_MAX_RETRIES" default:"2" validate:"min=0"`
	RecreateDelay        util.Duration `json:"recreateDelay" envconfig:"CUTOUT_RECREATE_DELAY" default:"1s" validate:"gt=0"`
	ModelLoadRetries     int           `json:"modelLoadRetries" envconfig:"CUTOUT_MODEL_LOAD_RETRIES" default:"2" validate:"min=0"`
	ModelRetryBackoff    util.Duration `json:"modelRetryBackoff" envconfig:"CUTOUT_MODEL_RETRY_BACKOFF" default:"1s" validate:"gt=0"`
	ModelPath            string        `json:"modelPath" envconfig:"CUTOUT_MODEL_PATH" default:""`
	MaxImageDimension    int           `json:"maxImageDimension" envconfig:"CUTOUT_MAX_IMAGE_DIMENSION" default:"4096" validate:"min=16,max=16384"`
	ModelInputSize       int           `json:"modelInputSize" envconfig:"CUTOUT_MODEL_INPUT_SIZE" default:"320" validate:"min=16,max=4096"`
	FeatherRadius        int           `json:"featherRadius" envconfig:"CUTOUT_FEATHER_RADIUS" default:"1" validate:"min=0,max=32"`
	InboxSize            int           `json:"inboxSize" envconfig:"CUTOUT_WORKER_INBOX_SIZE" default:"8" validate:"min=1"`
	ReleasePoolsWhenIdle bool          `json:"releasePoolsWhenIdle" envconfig:"CUTOUT_RELEASE_POOLS_WHEN_IDLE" default:"false"`
}

// New reads the configuration from the environment, applying defaults for
// unset variables.
func New() (*Config, error) {
	cfg := &Config{
		Database: &dbConfig{},
		Service:  &svcConfig{},
		Pipeline: &pipelineConfig{},
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the environment, overlays cfgFile when it is set and validates
// the result.
func Load(cfgFile string) (*Config, error) {
	cfg, err := New()
	if err != nil {
		return nil, err
	}
	if cfgFile != "" {
		if err := cfg.ParseConfigFile(cfgFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfigFile reads the config file and unmarshals it over cfg. Keys
// missing from the file keep their current value.
func (cfg *Config) ParseConfigFile(cfgFile string) error {
	contents, err := os.ReadFile(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	return nil
}

func (cfg *Config) Validate() error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (cfg *Config) String() string {
	contents, err := json.Marshal(cfg)
	if err != nil {
		return "<error>"
	}
	return string(contents)
}
