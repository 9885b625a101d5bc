package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/satindergrewal/tonelab/internal/errs"
)

// Config holds all runtime configuration. Load fills it from environment
// variables; LoadFile overlays a YAML document on top of that.
type Config struct {
	Audio  AudioConfig    `yaml:"audio"`
	Studio StudioConfig   `yaml:"studio"`
	LLM    LLMConfig      `yaml:"llm"`
	Model  ModelConfig    `yaml:"model"`
	Server ServerConfig   `yaml:"server"`
	Custom map[string]any `yaml:"custom,omitempty"`
}

type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
	BufferSize int `yaml:"buffer_size"`
}

type StudioConfig struct {
	NumTracks     int     `yaml:"num_tracks"`
	MaxTracks     int     `yaml:"max_tracks"`
	Tempo         int     `yaml:"tempo"`
	TimeSignature [2]int  `yaml:"time_signature,flow"`
	MasterVolume  float64 `yaml:"master_volume"`
}

// LLMConfig configures the chat-completion collaborator.
type LLMConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"-"` // env only, never written to disk
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ModelConfig configures the mel-spectrogram autoencoder.
type ModelConfig struct {
	Type        string `yaml:"type"` // only "fc" is built in
	LatentDim   int    `yaml:"latent_dim"`
	SeqLen      int    `yaml:"seq_len"`
	NMels       int    `yaml:"n_mels"`
	NFFT        int    `yaml:"n_fft"`
	HopLength   int    `yaml:"hop_length"`
	WeightsPath string `yaml:"weights_path"`
}

// ServerConfig configures serve mode and its auto-DJ.
type ServerConfig struct {
	Port        int           `yaml:"port"`
	Crossfade   time.Duration `yaml:"crossfade"`
	AutoDJ      bool          `yaml:"auto_dj"`
	Genre       string        `yaml:"genre"`        // auto-DJ starting genre
	BufferAhead int           `yaml:"buffer_ahead"` // renditions kept queued
	DwellMin    time.Duration `yaml:"dwell_min"`
	DwellMax    time.Duration `yaml:"dwell_max"`
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Audio: AudioConfig{
			SampleRate: envInt("TONELAB_SAMPLE_RATE", 44100),
			Channels:   2,
			BitDepth:   envInt("TONELAB_BIT_DEPTH", 16),
			BufferSize: envInt("TONELAB_BUFFER_SIZE", 4096),
		},
		Studio: StudioConfig{
			NumTracks:     envInt("TONELAB_TRACKS", 8),
			MaxTracks:     32,
			Tempo:         envInt("TONELAB_TEMPO", 120),
			TimeSignature: [2]int{4, 4},
			MasterVolume:  envFloat("TONELAB_MASTER_VOLUME", 1.0),
		},
		LLM: LLMConfig{
			Enabled:     envBool("TONELAB_LLM", false),
			BaseURL:     envStr("TONELAB_LLM_URL", "https://api.openai.com/v1"),
			APIKey:      envStr("OPENAI_API_KEY", ""),
			Model:       envStr("TONELAB_LLM_MODEL", "gpt-4"),
			MaxTokens:   envInt("TONELAB_LLM_MAX_TOKENS", 1000),
			Temperature: envFloat("TONELAB_LLM_TEMPERATURE", 0.7),
			Timeout:     envDuration("TONELAB_LLM_TIMEOUT", 30*time.Second),
		},
		Model: ModelConfig{
			Type:        envStr("TONELAB_MODEL_TYPE", "fc"),
			LatentDim:   envInt("TONELAB_MODEL_LATENT", 128),
			SeqLen:      envInt("TONELAB_MODEL_SEQ_LEN", 128),
			NMels:       envInt("TONELAB_MODEL_N_MELS", 80),
			NFFT:        1024,
			HopLength:   256,
			WeightsPath: envStr("TONELAB_MODEL_WEIGHTS", ""),
		},
		Server: ServerConfig{
			Port:        envInt("TONELAB_PORT", 8080),
			Crossfade:   time.Duration(envInt("TONELAB_CROSSFADE", 4)) * time.Second,
			AutoDJ:      envBool("TONELAB_AUTO_DJ", false),
			Genre:       envStr("TONELAB_GENRE", "lofi hip hop"),
			BufferAhead: envInt("TONELAB_BUFFER_AHEAD", 2),
			DwellMin:    envDuration("TONELAB_DWELL_MIN", 2*time.Minute),
			DwellMax:    envDuration("TONELAB_DWELL_MAX", 5*time.Minute),
		},
	}
}

// LoadFile loads environment defaults and overlays the YAML file at path.
// Sections missing from the file keep their defaults.
func LoadFile(path string) (Config, error) {
	cfg := Load()
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("config file %s: %w", path, errs.ErrNotFound)
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %v: %w", path, err, errs.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveFile writes the configuration as YAML, creating parent directories.
func (c Config) SaveFile(path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Validate rejects settings the studio cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Audio.SampleRate <= 0:
		return fmt.Errorf("sample rate %d must be positive: %w", c.Audio.SampleRate, errs.ErrInvalidArgument)
	case c.Studio.NumTracks < 1 || c.Studio.NumTracks > c.Studio.MaxTracks:
		return fmt.Errorf("num tracks %d must be in [1, %d]: %w", c.Studio.NumTracks, c.Studio.MaxTracks, errs.ErrInvalidArgument)
	case c.Studio.Tempo <= 0:
		return fmt.Errorf("tempo %d must be positive: %w", c.Studio.Tempo, errs.ErrInvalidArgument)
	case c.Studio.TimeSignature[0] <= 0 || c.Studio.TimeSignature[1] <= 0:
		return fmt.Errorf("time signature %v: %w", c.Studio.TimeSignature, errs.ErrInvalidArgument)
	case c.Model.SeqLen <= 0 || c.Model.NMels <= 0 || c.Model.LatentDim <= 0:
		return fmt.Errorf("model dimensions must be positive: %w", errs.ErrInvalidArgument)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("45s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
