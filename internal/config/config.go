// Package config defines the top-level Config loaded at startup and
// handed explicitly to the Supervisor and every component it constructs.
// Grounded on the YAML decode-then-validate shape used throughout the
// example pack's own config loaders.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// HallucinationConfig mirrors pkg/transcribe.HallucinationConfig in
// serializable form, plus Enabled. Enabled only decides whether Validate
// checks the two thresholds; the Transcription Pool applies the filter
// whether or not Enabled is set.
type HallucinationConfig struct {
	Enabled        bool `yaml:"enabled"`
	MinTokenRun    int  `yaml:"min_token_run"`
	MinRepeatCount int  `yaml:"min_repeat_count"`
}

// BackendConfig describes one configured translation backend.
type BackendConfig struct {
	Kind            string  `yaml:"kind"` // local_rest, remote_rest_primary, remote_rest_secondary, anthropic, openai, google, none
	Endpoint        string  `yaml:"endpoint"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	Model           string  `yaml:"model"`
	TimeoutMs       int     `yaml:"timeout_ms"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
}

// TranslationConfig mirrors pkg/translate.Config in serializable form.
type TranslationConfig struct {
	Enabled        bool            `yaml:"enabled"`
	SourcePolicy   string          `yaml:"source_policy"` // "explicit" or "detected"
	SourceLanguage string          `yaml:"source_language"`
	TargetLanguage string          `yaml:"target_language"`
	Concurrency    int             `yaml:"concurrency"`
	Backends       []BackendConfig `yaml:"backends"`
}

// HubConfig mirrors pkg/hub.Config in serializable form.
type HubConfig struct {
	BindAddress        string  `yaml:"bind_address"`
	Port               int     `yaml:"port"`
	MaxSubscribers     int     `yaml:"max_subscribers"`
	HistoryCap         int     `yaml:"history_cap"`
	SubscriberQueue    int     `yaml:"subscriber_queue"`
	SlowClientGraceSec float64 `yaml:"slow_client_grace_sec"`
	ShutdownDrainSec   float64 `yaml:"shutdown_drain_sec"`
}

// PersistenceConfig mirrors pkg/persist.Config in serializable form.
type PersistenceConfig struct {
	DataDir      string `yaml:"data_dir"`
	KeepSegments bool   `yaml:"keep_segments"`
}

// Config is the full recognized configuration surface (spec.md §6).
type Config struct {
	SampleRate           int     `yaml:"sample_rate"`
	FrameSizeMs          int     `yaml:"frame_size_ms"`
	RingCapacitySec      float64 `yaml:"ring_capacity_sec"`
	VADThreshold         float64 `yaml:"vad_threshold"`
	VADWindowSec         float64 `yaml:"vad_window_sec"`
	SilenceThresholdSec  float64 `yaml:"silence_threshold_sec"`
	PreSpeechPadSec      float64 `yaml:"pre_speech_pad_sec"`
	PostSpeechPadSec     float64 `yaml:"post_speech_pad_sec"`
	MinSpeechDurationSec float64 `yaml:"min_speech_duration_sec"`
	Workers              int     `yaml:"workers"`

	STTProvider  string `yaml:"stt_provider"`
	LanguageHint string `yaml:"language_hint"`

	HallucinationFilter HallucinationConfig `yaml:"hallucination_filter"`
	Translation         TranslationConfig   `yaml:"translation"`
	Hub                 HubConfig           `yaml:"hub"`
	Persistence         PersistenceConfig   `yaml:"persistence"`
}

// Default returns the configuration with every spec.md §6 default applied.
func Default() Config {
	return Config{
		SampleRate:           16000,
		FrameSizeMs:          20,
		RingCapacitySec:      10.0,
		VADThreshold:         0.5,
		VADWindowSec:         0.5,
		SilenceThresholdSec:  1.5,
		PreSpeechPadSec:      0.5,
		PostSpeechPadSec:     0.5,
		MinSpeechDurationSec: 0.5,
		Workers:              2,
		STTProvider:          "groq",
		LanguageHint:         "en",
		HallucinationFilter: HallucinationConfig{
			Enabled:        true,
			MinTokenRun:    3,
			MinRepeatCount: 3,
		},
		Translation: TranslationConfig{
			Enabled:      false,
			SourcePolicy: "detected",
			Concurrency:  1,
		},
		Hub: HubConfig{
			BindAddress:        "127.0.0.1",
			Port:               8765,
			MaxSubscribers:     32,
			HistoryCap:         100,
			SubscriberQueue:    256,
			SlowClientGraceSec: 30,
			ShutdownDrainSec:   3,
		},
		Persistence: PersistenceConfig{
			DataDir:      "./data",
			KeepSegments: false,
		},
	}
}

// Load reads and validates the YAML config file at path, overlaying it on
// top of Default() so omitted fields keep their spec-mandated defaults.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	return LoadOverlayFromReader(f)
}

// LoadOverlayFromReader decodes YAML from r on top of Default() so that an
// omitted field keeps its spec-mandated default rather than becoming zero.
func LoadOverlayFromReader(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg for internally-consistent, startable values,
// returning a joined error listing every problem found. Per spec.md §7,
// configuration errors cause the Supervisor to refuse to start.
func Validate(cfg Config) error {
	var errs []error

	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", cfg.SampleRate))
	}
	if cfg.FrameSizeMs <= 0 {
		errs = append(errs, fmt.Errorf("frame_size_ms must be positive, got %d", cfg.FrameSizeMs))
	}
	if cfg.RingCapacitySec <= 0 {
		errs = append(errs, fmt.Errorf("ring_capacity_sec must be positive, got %f", cfg.RingCapacitySec))
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad_threshold must be in [0,1], got %f", cfg.VADThreshold))
	}
	if cfg.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", cfg.Workers))
	}
	if cfg.MinSpeechDurationSec < 0 {
		errs = append(errs, fmt.Errorf("min_speech_duration_sec must be non-negative, got %f", cfg.MinSpeechDurationSec))
	}

	if cfg.HallucinationFilter.Enabled {
		if cfg.HallucinationFilter.MinTokenRun <= 0 {
			errs = append(errs, fmt.Errorf("hallucination_filter.min_token_run must be positive, got %d", cfg.HallucinationFilter.MinTokenRun))
		}
		if cfg.HallucinationFilter.MinRepeatCount <= 0 {
			errs = append(errs, fmt.Errorf("hallucination_filter.min_repeat_count must be positive, got %d", cfg.HallucinationFilter.MinRepeatCount))
		}
	}

	if cfg.Translation.Enabled {
		if cfg.Translation.TargetLanguage == "" {
			errs = append(errs, errors.New("translation.target_language is required when translation.enabled"))
		}
		switch cfg.Translation.SourcePolicy {
		case "explicit":
			if cfg.Translation.SourceLanguage == "" {
				errs = append(errs, errors.New(`translation.source_language is required when source_policy is "explicit"`))
			}
		case "detected":
		default:
			errs = append(errs, fmt.Errorf(`translation.source_policy %q is invalid; valid values: "explicit", "detected"`, cfg.Translation.SourcePolicy))
		}
		for i, b := range cfg.Translation.Backends {
			switch b.Kind {
			case "local_rest", "remote_rest_primary", "remote_rest_secondary", "anthropic", "openai", "google", "none":
			default:
				errs = append(errs, fmt.Errorf("translation.backends[%d].kind %q is invalid", i, b.Kind))
			}
		}
	}

	if cfg.Hub.MaxSubscribers <= 0 {
		errs = append(errs, fmt.Errorf("hub.max_subscribers must be positive, got %d", cfg.Hub.MaxSubscribers))
	}
	if cfg.Hub.SubscriberQueue <= 0 {
		errs = append(errs, fmt.Errorf("hub.subscriber_queue must be positive, got %d", cfg.Hub.SubscriberQueue))
	}
	if cfg.Persistence.DataDir == "" {
		errs = append(errs, errors.New("persistence.data_dir is required"))
	}

	return errors.Join(errs...)
}
