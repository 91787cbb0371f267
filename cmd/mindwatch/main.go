package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mindwatch-health/mindwatch/internal/alerting"
	"github.com/mindwatch-health/mindwatch/internal/analysis"
	"github.com/mindwatch-health/mindwatch/internal/api"
	"github.com/mindwatch-health/mindwatch/internal/genai"
	"github.com/mindwatch-health/mindwatch/internal/interview"
	"github.com/mindwatch-health/mindwatch/internal/speech"
	"github.com/mindwatch-health/mindwatch/internal/store"
	"github.com/mindwatch-health/mindwatch/internal/twiliosms"
	"github.com/mindwatch-health/mindwatch/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for MindWatch state data
	DefaultStateDir = "/var/lib/mindwatch"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "mindwatch.db"
	// DefaultChatBaseURL is the OpenAI-compatible endpoint for the chat-completion service
	DefaultChatBaseURL = "https://api.mistral.ai/v1"
	// DefaultChatModel is the default chat-completion model
	DefaultChatModel = "mistral-small-latest"
	// DefaultConversationBaseURL is the OpenAI-compatible endpoint for the conversation service
	DefaultConversationBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	// DefaultConversationModel is the default interview conversation model
	DefaultConversationModel = "gemini-2.0-flash"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize document store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	deps, err := buildDeps(st, config)
	if err != nil {
		slog.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	apiOpts := buildAPIOptions(flags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping MindWatch with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	server := api.NewServer(deps, apiOpts...)
	if err := server.Run(ctx); err != nil {
		slog.Error("MindWatch failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("MindWatch exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL         string
	StateDir            string
	APIAddr             string
	ChatKey             string
	ChatBaseURL         string
	ChatModel           string
	ConversationKey     string
	ConversationBaseURL string
	ConversationModel   string
	SpeechKey           string
	ElevenLabsKey       string
	ElevenLabsVoiceID   string
	AlertToNumber       string
	AlertMetricField    string
	AlertThreshold      float64
	TurnCap             int
}

// Flags holds command line flag values
type Flags struct {
	stateDir *string
	dbDSN    *string
	apiAddr  *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		StateDir:            os.Getenv("MINDWATCH_STATE_DIR"),
		APIAddr:             os.Getenv("API_ADDR"),
		ChatKey:             os.Getenv("CHAT_MODEL_API_KEY"),
		ChatBaseURL:         util.GetEnvOrDefault("CHAT_MODEL_BASE_URL", DefaultChatBaseURL),
		ChatModel:           util.GetEnvOrDefault("CHAT_MODEL", DefaultChatModel),
		ConversationKey:     os.Getenv("CONVERSATION_MODEL_API_KEY"),
		ConversationBaseURL: util.GetEnvOrDefault("CONVERSATION_MODEL_BASE_URL", DefaultConversationBaseURL),
		ConversationModel:   util.GetEnvOrDefault("CONVERSATION_MODEL", DefaultConversationModel),
		SpeechKey:           os.Getenv("SPEECH_API_KEY"),
		ElevenLabsKey:       os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID:   os.Getenv("ELEVENLABS_VOICE_ID"),
		AlertToNumber:       os.Getenv("ALERT_TO_NUMBER"),
		AlertMetricField:    util.GetEnvOrDefault("ALERT_METRIC_FIELD", alerting.DefaultMetricField),
		AlertThreshold:      util.ParseFloatEnv("ALERT_THRESHOLD", alerting.DefaultThreshold),
		TurnCap:             util.ParseIntEnv("INTERVIEW_TURN_CAP", interview.DefaultTurnCap),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No MINDWATCH_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"MINDWATCH_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"CHAT_MODEL", config.ChatModel,
		"CONVERSATION_MODEL", config.ConversationModel,
		"SPEECH_API_KEY_SET", config.SpeechKey != "",
		"ELEVENLABS_API_KEY_SET", config.ElevenLabsKey != "",
		"ALERT_METRIC_FIELD", config.AlertMetricField,
		"ALERT_THRESHOLD", config.AlertThreshold,
		"INTERVIEW_TURN_CAP", config.TurnCap)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir: flag.String("state-dir", config.StateDir, "state directory for MindWatch data (overrides $MINDWATCH_STATE_DIR)"),
		dbDSN:    flag.String("db-dsn", config.DatabaseURL, "database DSN for the document store (overrides $DATABASE_URL)"),
		apiAddr:  flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore selects and opens the document store backend from the DSN
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildDeps wires the model clients, speech services and alerting into
// the API dependency set. Optional services left unconfigured are wired
// as nil and the corresponding features degrade.
func buildDeps(st store.Store, config Config) (api.Deps, error) {
	chatClient, err := genai.NewClient(
		genai.WithAPIKey(config.ChatKey),
		genai.WithBaseURL(config.ChatBaseURL),
		genai.WithModel(config.ChatModel),
	)
	if err != nil {
		return api.Deps{}, err
	}

	conversationClient, err := genai.NewClient(
		genai.WithAPIKey(config.ConversationKey),
		genai.WithBaseURL(config.ConversationBaseURL),
		genai.WithModel(config.ConversationModel),
	)
	if err != nil {
		return api.Deps{}, err
	}

	deps := api.Deps{
		Store:      st,
		Engine:     interview.NewEngine(conversationClient, config.TurnCap),
		Summarizer: analysis.NewSummarizer(chatClient),
		Planner:    analysis.NewCrisisPlanner(chatClient),
		Assistant:  analysis.NewAssistant(chatClient),
	}

	if config.SpeechKey != "" {
		speechClient, err := genai.NewClient(
			genai.WithAPIKey(config.SpeechKey),
			genai.WithModel("whisper-1"),
		)
		if err != nil {
			return api.Deps{}, err
		}
		deps.Transcriber = speechClient
	} else {
		slog.Warn("SPEECH_API_KEY not set, audio transcription disabled")
	}

	if config.ElevenLabsKey != "" {
		synthOpts := []speech.Option{speech.WithAPIKey(config.ElevenLabsKey)}
		if config.ElevenLabsVoiceID != "" {
			synthOpts = append(synthOpts, speech.WithVoiceID(config.ElevenLabsVoiceID))
		}
		synthesizer, err := speech.NewElevenLabsClient(synthOpts...)
		if err != nil {
			return api.Deps{}, err
		}
		deps.Synthesizer = synthesizer
	} else {
		slog.Warn("ELEVENLABS_API_KEY not set, speech synthesis disabled")
	}

	deps.Alerts = buildAlerting(config)
	return deps, nil
}

// buildAlerting wires the SMS gateway and threshold configuration.
// Without Twilio credentials alerts are evaluated but only logged.
func buildAlerting(config Config) *alerting.Service {
	var sender twiliosms.Sender
	smsClient, err := twiliosms.NewClient()
	if err != nil {
		slog.Warn("Twilio not configured, SMS alerts disabled", "error", err)
		sender = twiliosms.NewMockClient()
	} else {
		sender = smsClient
	}
	return alerting.NewService(sender,
		alerting.WithMetricField(config.AlertMetricField),
		alerting.WithThreshold(config.AlertThreshold),
		alerting.WithToNumber(config.AlertToNumber),
	)
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
