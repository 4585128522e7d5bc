package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DownloadConfig struct {
	ScratchDir     string `yaml:"scratch_dir"`
	HTTPTimeout    int    `yaml:"http_timeout_s"`
	ChunkSizeBytes int    `yaml:"chunk_size_bytes"`
	S3Region       string `yaml:"s3_region"`
}

type ConvertConfig struct {
	FFmpegCommand  string `yaml:"ffmpeg_command"`
	FFprobeCommand string `yaml:"ffprobe_command"`
	TimeoutS       int    `yaml:"timeout_s"`
}

type TranscribeConfig struct {
	Mode             string `yaml:"mode"` // mock, exec
	Command          string `yaml:"command"`
	DefaultModelSize string `yaml:"default_model_size"`
	TimeoutS         int    `yaml:"timeout_s"`
}

type DiarizeConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	AuthToken string `yaml:"auth_token"`
	TimeoutS  int    `yaml:"timeout_s"`
}

type CallbackConfig struct {
	TimeoutS int `yaml:"timeout_s"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type JobStoreConfig struct {
	Path    string `yaml:"path"`
	MaxJobs int    `yaml:"max_jobs"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Download    DownloadConfig   `yaml:"download"`
	Convert     ConvertConfig    `yaml:"convert"`
	Transcribe  TranscribeConfig `yaml:"transcribe"`
	Diarize     DiarizeConfig    `yaml:"diarize"`
	Callback    CallbackConfig   `yaml:"callback"`
	Bus         BusConfig        `yaml:"bus"`
	JobStore    JobStoreConfig   `yaml:"job_store"`
}

func Default() Config {
	return Config{
		ServiceName: "transcriberd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Download: DownloadConfig{
			ScratchDir:     os.TempDir(),
			HTTPTimeout:    600,
			ChunkSizeBytes: 8 * 1024 * 1024,
		},
		Convert: ConvertConfig{
			FFmpegCommand:  "ffmpeg",
			FFprobeCommand: "ffprobe",
			TimeoutS:       300,
		},
		Transcribe: TranscribeConfig{
			Mode:             "exec",
			Command:          "whisper-transcribe",
			DefaultModelSize: "medium",
			TimeoutS:         1800,
		},
		Diarize: DiarizeConfig{
			Mode:     "exec",
			Command:  "pyannote-diarize",
			TimeoutS: 1800,
		},
		Callback: CallbackConfig{
			TimeoutS: 30,
		},
		Bus: BusConfig{
			Enabled:        false,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		JobStore: JobStoreConfig{
			Path:    "",
			MaxJobs: 10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "TRANSCRIBER_SERVICE_NAME")
	overrideString(&cfg.Environment, "TRANSCRIBER_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "TRANSCRIBER_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "TRANSCRIBER_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "TRANSCRIBER_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TRANSCRIBER_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TRANSCRIBER_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Download.ScratchDir, "TRANSCRIBER_DOWNLOAD_SCRATCH_DIR")
	overrideInt(&cfg.Download.HTTPTimeout, "TRANSCRIBER_DOWNLOAD_HTTP_TIMEOUT_S")
	overrideInt(&cfg.Download.ChunkSizeBytes, "TRANSCRIBER_DOWNLOAD_CHUNK_SIZE_BYTES")
	overrideString(&cfg.Download.S3Region, "TRANSCRIBER_DOWNLOAD_S3_REGION")
	overrideString(&cfg.Convert.FFmpegCommand, "TRANSCRIBER_CONVERT_FFMPEG_COMMAND")
	overrideString(&cfg.Convert.FFprobeCommand, "TRANSCRIBER_CONVERT_FFPROBE_COMMAND")
	overrideInt(&cfg.Convert.TimeoutS, "TRANSCRIBER_CONVERT_TIMEOUT_S")
	overrideString(&cfg.Transcribe.Mode, "TRANSCRIBER_TRANSCRIBE_MODE")
	overrideString(&cfg.Transcribe.Command, "TRANSCRIBER_TRANSCRIBE_COMMAND")
	overrideString(&cfg.Transcribe.DefaultModelSize, "TRANSCRIBER_TRANSCRIBE_DEFAULT_MODEL_SIZE")
	overrideInt(&cfg.Transcribe.TimeoutS, "TRANSCRIBER_TRANSCRIBE_TIMEOUT_S")
	overrideString(&cfg.Diarize.Mode, "TRANSCRIBER_DIARIZE_MODE")
	overrideString(&cfg.Diarize.Command, "TRANSCRIBER_DIARIZE_COMMAND")
	overrideString(&cfg.Diarize.AuthToken, "TRANSCRIBER_DIARIZE_AUTH_TOKEN")
	overrideInt(&cfg.Diarize.TimeoutS, "TRANSCRIBER_DIARIZE_TIMEOUT_S")
	overrideInt(&cfg.Callback.TimeoutS, "TRANSCRIBER_CALLBACK_TIMEOUT_S")
	overrideBool(&cfg.Bus.Enabled, "TRANSCRIBER_BUS_ENABLED")
	overrideStringSlice(&cfg.Bus.Servers, "TRANSCRIBER_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "TRANSCRIBER_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "TRANSCRIBER_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "TRANSCRIBER_BUS_TOKEN")
	overrideInt(&cfg.Bus.ConnectTimeout, "TRANSCRIBER_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.JobStore.Path, "TRANSCRIBER_JOB_STORE_PATH")
	overrideInt(&cfg.JobStore.MaxJobs, "TRANSCRIBER_JOB_STORE_MAX_JOBS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Download.ScratchDir == "" {
		return errors.New("download.scratch_dir must not be empty")
	}
	if cfg.Download.HTTPTimeout <= 0 {
		return errors.New("download.http_timeout_s must be positive")
	}
	if cfg.Download.ChunkSizeBytes <= 0 {
		return errors.New("download.chunk_size_bytes must be positive")
	}
	if cfg.Convert.FFmpegCommand == "" {
		return errors.New("convert.ffmpeg_command must not be empty")
	}
	if cfg.Convert.TimeoutS <= 0 {
		return errors.New("convert.timeout_s must be positive")
	}
	switch cfg.Transcribe.Mode {
	case "mock", "exec":
	default:
		return errors.New("transcribe.mode must be one of mock|exec")
	}
	if cfg.Transcribe.Mode == "exec" && cfg.Transcribe.Command == "" {
		return errors.New("transcribe.command must be set when mode=exec")
	}
	if cfg.Transcribe.DefaultModelSize == "" {
		return errors.New("transcribe.default_model_size must not be empty")
	}
	switch cfg.Diarize.Mode {
	case "mock", "exec":
	default:
		return errors.New("diarize.mode must be one of mock|exec")
	}
	if cfg.Diarize.Mode == "exec" && cfg.Diarize.Command == "" {
		return errors.New("diarize.command must be set when mode=exec")
	}
	if cfg.Callback.TimeoutS <= 0 {
		return errors.New("callback.timeout_s must be positive")
	}
	if cfg.Bus.Enabled && len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when bus is enabled")
	}
	if cfg.JobStore.MaxJobs < 0 {
		return errors.New("job_store.max_jobs must be >= 0")
	}
	return nil
}
