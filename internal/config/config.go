package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":7272"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	// Whisper engine subprocess.
	ModelName        string        `env:"MODEL_NAME" envDefault:"whisper-base"`
	WhisperPrompt    string        `env:"WHISPER_PROMPT" envDefault:"lounge cabinet lights kitchen bedroom bathroom office"`
	WhisperHost      string        `env:"WHISPER_SERVER_HOST" envDefault:"127.0.0.1"`
	WhisperPort      int           `env:"WHISPER_SERVER_PORT" envDefault:"8080"`
	UseWhisperServer bool          `env:"USE_WHISPER_SERVER" envDefault:"true"`
	WhisperBin       string        `env:"WHISPER_SERVER_BIN" envDefault:"/app/third_party/whisper_cpp/bin/whisper-server"`
	WhisperModelsDir string        `env:"WHISPER_MODELS_DIR" envDefault:"/app/models/whisper_cpp/whisper"`
	WhisperTimeout   time.Duration `env:"WHISPER_TIMEOUT" envDefault:"30s"`

	// Supervisor health loop.
	HealthInterval time.Duration `env:"WHISPER_HEALTH_INTERVAL" envDefault:"60s"`
	MaxHealthFails int           `env:"WHISPER_MAX_FAILURES" envDefault:"2"`

	DataDir       string `env:"DATA_DIR" envDefault:"./data"`
	RecordingsDir string `env:"RECORDINGS_DIR" envDefault:"./debug_recordings"`

	// Minimum buffered audio before a streaming session may transcribe.
	StreamThresholdMs int `env:"STREAM_THRESHOLD_MS" envDefault:"300"`

	CommandHistorySize int           `env:"COMMAND_HISTORY_SIZE" envDefault:"5"`
	HeartbeatTTL       time.Duration `env:"HEARTBEAT_TTL" envDefault:"120s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	HTTPAddr string
	LogLevel string
	DataDir  string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DataDir != "" {
		cfg.DataDir = overrides.DataDir
	}

	return cfg, nil
}

// EngineURL returns the base URL of the whisper-server subprocess.
func (c *Config) EngineURL() string {
	return fmt.Sprintf("http://%s:%d", c.WhisperHost, c.WhisperPort)
}
