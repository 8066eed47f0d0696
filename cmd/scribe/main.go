package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"github.com/lokutor-ai/lokutor-scribe/internal/config"
	"github.com/lokutor-ai/lokutor-scribe/internal/logging"
	"github.com/lokutor-ai/lokutor-scribe/internal/telemetry"
	"github.com/lokutor-ai/lokutor-scribe/pkg/recognize"
	"github.com/lokutor-ai/lokutor-scribe/pkg/supervisor"
	"github.com/lokutor-ai/lokutor-scribe/pkg/translate"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: no .env file found, using system environment variables")
	}

	var (
		configPath = pflag.StringP("config", "c", "", "path to a YAML config file overlaying the defaults")
		dataDir    = pflag.String("data-dir", "", "override persistence.data_dir")
		logLevel   = pflag.String("log-level", "info", "debug, info, warn, or error")
		sessionID  = pflag.String("session-id", "", "override the generated session id")
	)
	pflag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("scribe: %v", err)
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.Persistence.DataDir = *dataDir
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("scribe: invalid config: %v", err)
	}

	logger := logging.New(*logLevel)

	shutdownTelemetry, err := telemetry.InitProvider(context.Background(), telemetry.ProviderConfig{ServiceName: "lokutor-scribe"})
	if err != nil {
		log.Fatalf("scribe: telemetry init: %v", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Error("telemetry shutdown failed", "err", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		logger.Warn("metrics unavailable, continuing without them", "err", err)
		metrics = nil
	}

	recognizer, err := buildRecognizer(cfg.STTProvider, cfg.SampleRate)
	if err != nil {
		log.Fatalf("scribe: %v", err)
	}

	backends := buildTranslationBackends(cfg.Translation)

	id := *sessionID
	if id == "" {
		id = uuid.NewString()
	}

	sup, err := supervisor.New(cfg, id, time.Now().UTC(), recognizer, backends, logger, metrics)
	if err != nil {
		log.Fatalf("scribe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		cancel()
	}()

	fmt.Printf("lokutor-scribe session %s listening on ws://%s:%d\n", id, cfg.Hub.BindAddress, cfg.Hub.Port)
	fmt.Println("Press Ctrl+C to stop recording.")

	summary, err := sup.Run(ctx)
	cancel()
	if err != nil {
		log.Fatalf("scribe: session %s exited: %v", id, err)
	}

	printSummary(id, summary)
}

// buildRecognizer selects a Recognizer by provider name, grounded on the
// teacher's STT provider switch in cmd/agent/main.go. Each branch reads its
// own API key from the environment rather than a config field, since
// credentials never belong in a YAML file committed alongside the rest of
// the configuration.
func buildRecognizer(provider string, sampleRate int) (recognize.Recognizer, error) {
	switch provider {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set for stt_provider=openai")
		}
		return recognize.NewOpenAIRecognizer(key, "whisper-1"), nil
	case "deepgram":
		key := os.Getenv("DEEPGRAM_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY must be set for stt_provider=deepgram")
		}
		return recognize.NewDeepgramRecognizer(key, sampleRate), nil
	case "assemblyai":
		key := os.Getenv("ASSEMBLYAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ASSEMBLYAI_API_KEY must be set for stt_provider=assemblyai")
		}
		return recognize.NewAssemblyAIRecognizer(key), nil
	case "groq", "":
		key := os.Getenv("GROQ_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("GROQ_API_KEY must be set for stt_provider=groq")
		}
		model := os.Getenv("GROQ_STT_MODEL")
		if model == "" {
			model = "whisper-large-v3-turbo"
		}
		return recognize.NewGroqRecognizer(key, model), nil
	default:
		return nil, fmt.Errorf("unrecognized stt_provider %q", provider)
	}
}

// buildTranslationBackends constructs the ordered fallback chain configured
// under translation.backends. A backend whose required API key env var is
// unset is skipped with a warning rather than aborting startup, since later
// backends (or the implicit "none" passthrough) may still make the session
// usable.
func buildTranslationBackends(cfg config.TranslationConfig) []translate.Backend {
	if !cfg.Enabled {
		return nil
	}

	backends := make([]translate.Backend, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		var backend translate.Backend
		switch b.Kind {
		case "none":
			backend = translate.NoneBackend{}
		case "local_rest", "remote_rest_primary", "remote_rest_secondary":
			apiKey := ""
			if b.APIKeyEnv != "" {
				apiKey = os.Getenv(b.APIKeyEnv)
			}
			timeout := time.Duration(b.TimeoutMs) * time.Millisecond
			backend = translate.NewRESTBackend(b.Kind, b.Endpoint, apiKey, "", timeout)
		case "anthropic", "openai", "google":
			apiKey := ""
			if b.APIKeyEnv != "" {
				apiKey = os.Getenv(b.APIKeyEnv)
			}
			if apiKey == "" {
				log.Printf("scribe: skipping %s translation backend, %s is unset", b.Kind, b.APIKeyEnv)
				continue
			}
			backend = newLLMBackend(b.Kind, apiKey, b.Model)
		default:
			log.Printf("scribe: skipping translation backend with unrecognized kind %q", b.Kind)
			continue
		}
		if b.RateLimitPerSec > 0 {
			backend = translate.NewRateLimited(backend, b.RateLimitPerSec)
		}
		backends = append(backends, backend)
	}
	return backends
}

// newLLMBackend constructs one of the LLM-prompted translation backends,
// defaulting each to the same model the teacher's LLM providers used.
func newLLMBackend(kind, apiKey, model string) translate.Backend {
	switch kind {
	case "anthropic":
		if model == "" {
			model = "claude-3-5-sonnet-20241022"
		}
		return translate.NewAnthropicBackend(apiKey, model)
	case "google":
		if model == "" {
			model = "gemini-1.5-flash"
		}
		return translate.NewGoogleBackend(apiKey, model)
	default: // "openai"
		if model == "" {
			model = "gpt-4o"
		}
		return translate.NewOpenAIBackend(apiKey, model)
	}
}

func printSummary(sessionID string, s supervisor.Summary) {
	fmt.Printf("\n--- session %s summary ---\n", sessionID)
	fmt.Printf("frames captured:        %d\n", s.FramesCaptured)
	fmt.Printf("frames overwritten:     %d\n", s.FramesOverwritten)
	fmt.Printf("segments emitted:       %d\n", s.SegmentsEmitted)
	fmt.Printf("rejected (too short):   %d\n", s.RejectedShort)
	fmt.Printf("rejected (hallucinated):%d\n", s.RejectedHallucination)
	fmt.Printf("model errors:           %d\n", s.ModelErrors)
	fmt.Printf("translation failures:   %d\n", s.TranslationFailed)
	fmt.Printf("subscribers connected:  %d\n", s.SubscribersConnected)
	fmt.Printf("slow-client drops:      %d\n", s.SlowClientDrops)
	fmt.Printf("persistence errors:     %d\n", s.PersistenceErrors)
}
