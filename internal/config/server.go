package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServiceConfig holds configuration for the ASR webservice.
type ServiceConfig struct {
	Port           int           `yaml:"port"`
	BaseURL        string        `yaml:"base_url"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	APIKey         string        `yaml:"api_key"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RedisAddr      string        `yaml:"redis_addr"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	LogLevel       string        `yaml:"log_level"`
	ConfigFile     string        `yaml:"-"`
	EnvFile        string        `yaml:"-"`

	// Engine is reported in the Asr-Engine response header.
	Engine    string   `yaml:"engine"`
	Languages []string `yaml:"languages"`

	Audio       AudioConfig       `yaml:"audio"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Docs        DocsConfig        `yaml:"docs"`
}

// AudioConfig controls how uploads are staged.
type AudioConfig struct {
	SampleRate     int    `yaml:"sample_rate"`
	FFmpegPath     string `yaml:"ffmpeg_path"`
	TempDir        string `yaml:"temp_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	// MinFreeBytes marks the service unhealthy when the temp dir has less free space.
	MinFreeBytes uint64 `yaml:"min_free_bytes"`
}

// TranscriberConfig describes the external transcription command.
type TranscriberConfig struct {
	Command []string      `yaml:"command"`
	Model   string        `yaml:"model"`
	WorkDir string        `yaml:"workdir"`
	Timeout time.Duration `yaml:"timeout"`
}

// DocsConfig is the service metadata published in the OpenAPI document and
// the settings of the interactive docs page.
type DocsConfig struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
	ContactURL  string `yaml:"contact_url"`
	LicenseName string `yaml:"license_name"`
	LicenseURL  string `yaml:"license_url"`
	AssetsDir   string `yaml:"assets_dir"`
}

// SetDefaults initializes c with built-in defaults.
func (c *ServiceConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 9000
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 2 * time.Minute
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("server.yaml")
	}
	if c.EnvFile == "" {
		c.EnvFile = ".env"
	}
	if c.Engine == "" {
		c.Engine = "MMS"
	}
	if len(c.Languages) == 0 {
		c.Languages = []string{"eng"}
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.FFmpegPath == "" {
		c.Audio.FFmpegPath = "ffmpeg"
	}
	if len(c.Transcriber.Command) == 0 {
		c.Transcriber.Command = []string{"python", "examples/mms/asr/infer/mms_infer.py"}
	}
	if c.Transcriber.Model == "" {
		c.Transcriber.Model = "/content/fairseq/models_new/mms1b_all.pt"
	}
	if c.Docs.Title == "" {
		c.Docs.Title = "Whisper Asr Webservice"
	}
	if c.Docs.Description == "" {
		c.Docs.Description = "Speech recognition webservice backed by Massively Multilingual Speech (MMS)"
	}
	if c.Docs.LicenseName == "" {
		c.Docs.LicenseName = "MIT License"
	}
	if c.Docs.AssetsDir == "" {
		c.Docs.AssetsDir = "swagger-ui-assets"
	}
}

// LoadDotEnv loads variables from c.EnvFile into the process environment.
// Variables already set in the environment win. A missing file is not an error.
func (c *ServiceConfig) LoadDotEnv() error {
	if c.EnvFile == "" {
		return nil
	}
	if err := godotenv.Load(c.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", c.EnvFile, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ServiceConfig) ApplyEnv() {
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv("BASE_URL"); ok {
		c.BaseURL = v
	}
	if v := GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := GetEnv("METRICS_PORT", ""); v != "" {
		if strings.Contains(v, ":") {
			c.MetricsAddr = v
		} else {
			c.MetricsAddr = ":" + v
		}
	}
	if v := GetEnv("API_KEY", ""); v != "" {
		c.APIKey = v
	}
	if v := GetEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := GetEnv("DRAIN_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DrainTimeout = d
		}
	}
	if v := GetEnv("ASR_ENGINE", ""); v != "" {
		c.Engine = v
	}
	if v := GetEnv("ASR_LANGUAGES", ""); v != "" {
		c.Languages = splitComma(v)
	}
	if v := GetEnv("SAMPLE_RATE", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Audio.SampleRate = n
		}
	}
	if v := GetEnv("FFMPEG_PATH", ""); v != "" {
		c.Audio.FFmpegPath = v
	}
	if v := GetEnv("ASR_TEMP_DIR", ""); v != "" {
		c.Audio.TempDir = v
	}
	if v := GetEnv("MAX_UPLOAD_BYTES", ""); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Audio.MaxUploadBytes = n
		}
	}
	if v := GetEnv("MMS_COMMAND", ""); v != "" {
		c.Transcriber.Command = strings.Fields(v)
	}
	if v := GetEnv("MMS_MODEL", ""); v != "" {
		c.Transcriber.Model = v
	}
	if v := GetEnv("MMS_WORKDIR", ""); v != "" {
		c.Transcriber.WorkDir = v
	}
	if v := GetEnv("TRANSCRIBE_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Transcriber.Timeout = d
		}
	}
	if v := GetEnv("SWAGGER_ASSETS_DIR", ""); v != "" {
		c.Docs.AssetsDir = v
	}
}

// BindFlagsFromCurrent binds command line flags using the current config values as defaults.
func (c *ServiceConfig) BindFlagsFromCurrent() {
	c.BindFlagSet(flag.CommandLine)
}

// BindFlagSet binds the config flags on fs using the current values as defaults.
func (c *ServiceConfig) BindFlagSet(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "service config file path")
	fs.StringVar(&c.EnvFile, "env-file", c.EnvFile, "dotenv file loaded before reading the environment")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	fs.StringVar(&c.BaseURL, "base-url", c.BaseURL, "path prefix for every route, e.g. /stt")
	fs.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port; defaults to the value of --port")
	fs.StringVar(&c.APIKey, "api-key", c.APIKey, "API key required on /asr; leave empty to disable auth")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for shared server state")
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to wait for in-flight requests on shutdown (-1 to wait indefinitely, 0 to exit immediately)")
	fs.StringVar(&c.Engine, "engine", c.Engine, "engine name reported in the Asr-Engine header")
	fs.Func("languages", "comma separated list of accepted language codes", func(v string) error {
		c.Languages = splitComma(v)
		return nil
	})
	fs.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
	fs.IntVar(&c.Audio.SampleRate, "sample-rate", c.Audio.SampleRate, "sample rate used when re-encoding uploads")
	fs.StringVar(&c.Audio.FFmpegPath, "ffmpeg", c.Audio.FFmpegPath, "ffmpeg executable")
	fs.StringVar(&c.Audio.TempDir, "temp-dir", c.Audio.TempDir, "directory for staged audio; defaults to the OS temp dir")
	fs.Int64Var(&c.Audio.MaxUploadBytes, "max-upload-bytes", c.Audio.MaxUploadBytes, "maximum accepted upload size in bytes (0 for unlimited)")
	fs.Func("mms-command", "transcriber command line, space separated", func(v string) error {
		c.Transcriber.Command = strings.Fields(v)
		return nil
	})
	fs.StringVar(&c.Transcriber.Model, "mms-model", c.Transcriber.Model, "model reference passed to the transcriber")
	fs.StringVar(&c.Transcriber.WorkDir, "mms-workdir", c.Transcriber.WorkDir, "working directory of the transcriber")
	fs.DurationVar(&c.Transcriber.Timeout, "transcribe-timeout", c.Transcriber.Timeout, "maximum duration of one transcription (0 for none)")
	fs.StringVar(&c.Docs.AssetsDir, "swagger-assets", c.Docs.AssetsDir, "directory holding swagger-ui.css and swagger-ui-bundle.js")
}

// LoadFile populates the config from a YAML file.
func (c *ServiceConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// Validate normalizes BaseURL and reports the first invalid setting.
func (c *ServiceConfig) Validate() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, "/") {
		return fmt.Errorf("base_url must start with '/', got %q", c.BaseURL)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Engine == "" {
		return errors.New("engine cannot be empty")
	}
	if len(c.Languages) == 0 {
		return errors.New("languages cannot be empty")
	}
	for _, l := range c.Languages {
		if l == "" {
			return errors.New("languages cannot contain an empty code")
		}
	}
	if c.Audio.SampleRate < 1 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.MaxUploadBytes < 0 {
		return fmt.Errorf("max_upload_bytes cannot be negative, got %d", c.Audio.MaxUploadBytes)
	}
	if len(c.Transcriber.Command) == 0 {
		return errors.New("transcriber command cannot be empty")
	}
	if c.Transcriber.Timeout < 0 {
		return fmt.Errorf("transcriber timeout cannot be negative, got %s", c.Transcriber.Timeout)
	}
	return nil
}

// MetricsOnMainPort reports whether /metrics is served by the main listener.
func (c *ServiceConfig) MetricsOnMainPort() bool {
	return c.MetricsAddr == "" || c.MetricsAddr == fmt.Sprintf(":%d", c.Port)
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
