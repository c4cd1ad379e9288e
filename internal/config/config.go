package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken  string   `env:"TOKEN,required"`
		EnabledHandlers   []string `env:"HANDLERS,default=guard"`
		DefaultLanguage   string   `env:"LANG,default=en"`
		LogLevel          int      `env:"LOG_LEVEL,default=4"`
		DotPath           string   `env:"DOT_PATH,default=~/.saqshy"`
		CalibrationPath   string   `env:"CALIBRATION_PATH"`
		RedisURL          string   `env:"REDIS_URL"`
		MetricsListenAddr string   `env:"METRICS_LISTEN_ADDR,default=:2112"`

		Arbiter    Arbiter
		Pipeline   Pipeline
		Trust      Trust
		Classifier Classifier
		Embeddings Embeddings
		Moderation Moderation
	}

	Arbiter struct {
		APIKey            string        `env:"LLM_API_KEY"`
		Model             string        `env:"LLM_API_MODEL,default=gpt-4o-mini"`
		BaseURL           string        `env:"LLM_API_URL,default=https://api.openai.com/v1"`
		Type              string        `env:"LLM_API_TYPE,default=openai"`
		BandLow           int           `env:"ARBITER_BAND_LOW,default=60"`
		BandHigh          int           `env:"ARBITER_BAND_HIGH,default=80"`
		FirstMessageFloor int           `env:"ARBITER_FIRST_MESSAGE_FLOOR,default=25"`
		Timeout           time.Duration `env:"ARBITER_TIMEOUT,default=3s"`
		RatePerMin        float64       `env:"ARBITER_RATE_PER_MIN,default=50"`
	}

	Pipeline struct {
		Deadline         time.Duration `env:"PIPELINE_DEADLINE,default=5s"`
		BreakerThreshold int           `env:"BREAKER_THRESHOLD,default=5"`
		BreakerCooldown  time.Duration `env:"BREAKER_COOLDOWN,default=60s"`
		MaxConcurrent    int64         `env:"MAX_CONCURRENT_DECISIONS,default=100"`
	}

	Trust struct {
		SandboxDuration time.Duration `env:"SANDBOX_DURATION,default=24h"`
	}

	Classifier struct {
		Enabled   bool    `env:"CLASSIFIER_ENABLED,default=false"`
		ModelsDir string  `env:"CLASSIFIER_MODELS_DIR"`
		Model     string  `env:"CLASSIFIER_MODEL"`
		Threshold float64 `env:"CLASSIFIER_THRESHOLD,default=0.7"`
	}

	// Embeddings is optional: an empty API key leaves the similarity source
	// on its exact-hash path only.
	Embeddings struct {
		APIKey  string `env:"EMBEDDINGS_API_KEY"`
		Model   string `env:"EMBEDDINGS_MODEL"`
		BaseURL string `env:"EMBEDDINGS_API_URL"`
	}

	Moderation struct {
		ReviewChannelUsername string        `env:"REVIEW_CHANNEL_USERNAME"`
		DebugUserID           int64         `env:"DEBUG_USER_ID"`
		ReviewTimeout         time.Duration `env:"REVIEW_TIMEOUT,default=10m"`
		Verbose               bool          `env:"VERBOSE,default=false"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("SAQSHY_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		if err := cfg.validate(); err != nil {
			globalErr = err
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			globalErr = fmt.Errorf("get user home directory: %w", err)
			return
		}
		cfg.DotPath = strings.Replace(cfg.DotPath, "~", home, 1)
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}

func (c *Config) validate() error {
	if c.Arbiter.BandLow < 0 || c.Arbiter.BandHigh > 100 || c.Arbiter.BandLow >= c.Arbiter.BandHigh {
		return fmt.Errorf("arbiter band [%d, %d) is not a valid score range", c.Arbiter.BandLow, c.Arbiter.BandHigh)
	}
	if c.Arbiter.Type != "openai" && c.Arbiter.Type != "gemini" {
		return fmt.Errorf("unknown LLM API type %q", c.Arbiter.Type)
	}
	if c.Classifier.Threshold <= 0 || c.Classifier.Threshold > 1 {
		return fmt.Errorf("classifier threshold %f outside (0, 1]", c.Classifier.Threshold)
	}
	if c.Pipeline.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent decisions must be positive, got %d", c.Pipeline.MaxConcurrent)
	}
	return nil
}
