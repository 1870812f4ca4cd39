package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "ARTICLES_PODCAST_CONFIG"
	sqliteFile    = "articles.db"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Storage       StorageConfig      `yaml:"storage"`
	Files         FilesConfig        `yaml:"files"`
	Audio         AudioConfig        `yaml:"audio"`
	TTS           TTSConfig          `yaml:"tts"`
	Extractor     ExtractorConfig    `yaml:"extractor"`
	Background    BackgroundConfig   `yaml:"background"`
	Processing    ProcessingConfig   `yaml:"processing"`
	Notifications NotificationConfig `yaml:"notifications"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"ARTICLES_PODCAST_LOG_LEVEL"`
	Format string `yaml:"format" env:"ARTICLES_PODCAST_LOG_FORMAT"`
}

// StorageConfig selects the database. Driver is "sqlite" or "postgres"; an
// empty sqlite DSN means a file inside the data directory.
type StorageConfig struct {
	Driver string `yaml:"driver" env:"ARTICLES_PODCAST_DB_DRIVER"`
	DSN    string `yaml:"dsn" env:"DATABASE_DSN"`
}

type FilesConfig struct {
	DataDir string `yaml:"dataDir" env:"ARTICLES_PODCAST_DATA_DIR"`
}

// AudioConfig is the format every paragraph unit is normalized to.
type AudioConfig struct {
	SampleRate int `yaml:"sampleRate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bitDepth"`
}

// TTSConfig describes both speech engines and the defaults for the user
// settings ttsEngine and voiceId.
type TTSConfig struct {
	Engine        string        `yaml:"engine" env:"ARTICLES_PODCAST_TTS_ENGINE"`
	VoiceID       string        `yaml:"voiceId" env:"ARTICLES_PODCAST_TTS_VOICE"`
	Timeout       time.Duration `yaml:"timeout" env:"ARTICLES_PODCAST_TTS_TIMEOUT"`
	SystemCommand []string      `yaml:"systemCommand" env:"ARTICLES_PODCAST_TTS_COMMAND" envSeparator:" "`
	SystemVoices  []VoiceConfig `yaml:"systemVoices"`
	Kokoro        KokoroConfig  `yaml:"kokoro"`
}

type VoiceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Language string `yaml:"language"`
}

// KokoroConfig wires the neural runtime and its model file.
type KokoroConfig struct {
	Endpoint  string `yaml:"endpoint" env:"KOKORO_ENDPOINT"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"apiKey" env:"KOKORO_API_KEY"`
	ModelFile string `yaml:"modelFile"`
	ModelURL  string `yaml:"modelUrl"`
}

type ExtractorConfig struct {
	UserAgent string        `yaml:"userAgent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// BackgroundConfig defines when background recovery runs and how long one run
// may take.
type BackgroundConfig struct {
	CronExpression string        `yaml:"cronExpression" env:"ARTICLES_PODCAST_CRON"`
	Budget         time.Duration `yaml:"budget"`
	RunAtStart     bool          `yaml:"runAtStart"`
}

type ProcessingConfig struct {
	ProgressInterval time.Duration `yaml:"progressInterval"`
	SortGap          int           `yaml:"sortGap"`
	// LeaseTTL is how long the cross-process processing claim lives without
	// renewal.
	LeaseTTL time.Duration `yaml:"leaseTtl"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken" env:"TELEGRAM_BOT_TOKEN"`
	ChatID   string `yaml:"chatId" env:"TELEGRAM_CHAT_ID"`
}

// Enabled reports whether both token and chat are set.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// Load reads YAML configuration over the defaults and applies environment
// overrides. An empty path falls back to $ARTICLES_PODCAST_CONFIG; a missing
// file there is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && !explicit:
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the application cannot run with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return errors.New("config: postgres requires storage.dsn")
	}
	if c.Files.DataDir == "" {
		return errors.New("config: files.dataDir is empty")
	}
	if c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 {
		return fmt.Errorf("config: invalid audio format %d Hz / %d ch", c.Audio.SampleRate, c.Audio.Channels)
	}
	if len(c.TTS.SystemCommand) == 0 {
		return errors.New("config: tts.systemCommand is empty")
	}
	return nil
}

// DSN returns the storage DSN, deriving the sqlite file path when unset.
func (c Config) DSN() string {
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		return filepath.Join(c.Files.DataDir, sqliteFile)
	}
	return c.Storage.DSN
}

// Default is the configuration used when no file or environment is present.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{Driver: "sqlite"},
		Files:   FilesConfig{DataDir: defaultDataDir()},
		Audio:   AudioConfig{SampleRate: 24000, Channels: 1, BitDepth: 16},
		TTS: TTSConfig{
			Engine:        "system",
			Timeout:       60 * time.Second,
			SystemCommand: []string{"espeak-ng", "--stdout", "-v", "{voice}"},
			SystemVoices: []VoiceConfig{
				{ID: "en-us", Name: "English (US)", Language: "en-US"},
				{ID: "en-gb", Name: "English (UK)", Language: "en-GB"},
			},
			Kokoro: KokoroConfig{
				Endpoint:  "http://localhost:8880",
				Model:     "kokoro",
				ModelFile: "kokoro-v1.0.onnx",
				ModelURL:  "https://github.com/thewh1teagle/kokoro-onnx/releases/download/model-files-v1.0/kokoro-v1.0.onnx",
			},
		},
		Extractor: ExtractorConfig{Timeout: 30 * time.Second},
		Background: BackgroundConfig{
			CronExpression: "*/15 * * * *",
			Budget:         30 * time.Second,
		},
		Processing: ProcessingConfig{ProgressInterval: 500 * time.Millisecond, SortGap: 100, LeaseTTL: 2 * time.Minute},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".articlespodcast")
	}
	return "data"
}
