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

	"github.com/leadflowhq/leadflow/internal/api"
	"github.com/leadflowhq/leadflow/internal/engine"
	"github.com/leadflowhq/leadflow/internal/flow"
	"github.com/leadflowhq/leadflow/internal/genai"
	"github.com/leadflowhq/leadflow/internal/integrations"
	"github.com/leadflowhq/leadflow/internal/lockfile"
	"github.com/leadflowhq/leadflow/internal/messaging"
	"github.com/leadflowhq/leadflow/internal/rules"
	"github.com/leadflowhq/leadflow/internal/scheduler"
	"github.com/leadflowhq/leadflow/internal/store"
	"github.com/leadflowhq/leadflow/internal/util"
	"github.com/leadflowhq/leadflow/internal/validators"
	"github.com/leadflowhq/leadflow/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadFlow state data
	DefaultStateDir = "/var/lib/leadflow"
	// DefaultLeadsFileName is the default JSON lead snapshot filename
	DefaultLeadsFileName = "leads.json"
	// DefaultWhatsAppDBFileName is the default whatsmeow SQLite filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		slog.Error("LeadFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir           string
	LeadsDSN           string
	WhatsAppDSN        string
	FlowPath           string
	AvailabilityPath   string
	OpenAIKey          string
	APIAddr            string
	Channel            string
	ResetKeyword       string
	ActivationKeywords string
	TwilioSID          string
	TwilioToken        string
	TwilioFrom         string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput         *string
	numeric          *bool
	stateDir         *string
	leadsDSN         *string
	whatsappDSN      *string
	flowPath         *string
	availabilityPath *string
	openaiKey        *string
	apiAddr          *string
	channel          *string
	resetKeyword     *string
	activation       *string
	twilioSID        *string
	twilioToken      *string
	twilioFrom       *string
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("LEADFLOW_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		StateDir:           os.Getenv("LEADFLOW_STATE_DIR"),
		LeadsDSN:           os.Getenv("LEADS_DB_DSN"),
		WhatsAppDSN:        os.Getenv("WHATSAPP_DB_DSN"),
		FlowPath:           os.Getenv("FLOW_PATH"),
		AvailabilityPath:   os.Getenv("AVAILABILITY_PATH"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		APIAddr:            os.Getenv("API_ADDR"),
		Channel:            os.Getenv("CHANNEL"),
		ResetKeyword:       os.Getenv("RESET_KEYWORD"),
		ActivationKeywords: os.Getenv("ACTIVATION_KEYWORDS"),
		TwilioSID:          os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:        os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:         os.Getenv("TWILIO_FROM_NUMBER"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LEADFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.LeadsDSN == "" {
		// DATABASE_URL serves both stores when no specific DSN is given.
		config.LeadsDSN = os.Getenv("DATABASE_URL")
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
	}
	if config.Channel == "" {
		config.Channel = "whatsapp"
	}

	slog.Debug("environment variables loaded",
		"LEADFLOW_STATE_DIR", config.StateDir,
		"LEADS_DB_DSN_SET", config.LeadsDSN != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"FLOW_PATH", config.FlowPath,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"CHANNEL", config.Channel)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:         flag.String("qr-output", "", "path to write login QR code"),
		numeric:          flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for LeadFlow data (overrides $LEADFLOW_STATE_DIR)"),
		leadsDSN:         flag.String("leads-dsn", config.LeadsDSN, "lead store DSN, SQLite path or postgres:// URL; empty uses a JSON snapshot in the state dir (overrides $LEADS_DB_DSN)"),
		whatsappDSN:      flag.String("whatsapp-dsn", config.WhatsAppDSN, "whatsmeow database DSN (overrides $WHATSAPP_DB_DSN)"),
		flowPath:         flag.String("flow", config.FlowPath, "path to the flow definition file, JSON or YAML (overrides $FLOW_PATH)"),
		availabilityPath: flag.String("availability", config.AvailabilityPath, "path to a JSON availability map (overrides $AVAILABILITY_PATH)"),
		openaiKey:        flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for the intent validator (overrides $OPENAI_API_KEY)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "admin API address (overrides $API_ADDR)"),
		channel:          flag.String("channel", config.Channel, "messaging channel: whatsapp or twilio (overrides $CHANNEL)"),
		resetKeyword:     flag.String("reset-keyword", config.ResetKeyword, "keyword that resets an ongoing conversation (overrides $RESET_KEYWORD)"),
		activation:       flag.String("activation-keywords", config.ActivationKeywords, "comma-separated keywords gating new conversations (overrides $ACTIVATION_KEYWORDS)"),
		twilioSID:        flag.String("twilio-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:      flag.String("twilio-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:       flag.String("twilio-from", config.TwilioFrom, "Twilio WhatsApp number (overrides $TWILIO_FROM_NUMBER)"),
	}

	flag.Parse()

	if *flags.flowPath == "" {
		*flags.flowPath = filepath.Join(*flags.stateDir, "flow.json")
		slog.Debug("No flow path provided, defaulting to state dir", "flow_path", *flags.flowPath)
	}

	return flags
}

// ensureDirectoriesExist creates the state directory for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.leadsDSN) != "postgres" {
		if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// buildLeadStore selects the lead store backend from the DSN: Postgres,
// SQLite, or the JSON snapshot file in the state dir.
func buildLeadStore(flags Flags) (store.LeadStore, error) {
	dsn := *flags.leadsDSN
	switch {
	case dsn == "":
		path := filepath.Join(*flags.stateDir, DefaultLeadsFileName)
		slog.Debug("No lead store DSN provided, using JSON snapshot", "path", path)
		return store.NewFileStore(store.WithSnapshotPath(path))
	case store.DetectDSNType(dsn) == "postgres":
		slog.Debug("Detected PostgreSQL DSN for lead store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	default:
		slog.Debug("Detected SQLite DSN for lead store", "path", dsn)
		return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	}
}

// buildCatalog creates the validator catalog, registering the GenAI intent
// validator when an API key is configured.
func buildCatalog(flags Flags) *validators.Catalog {
	catalog := validators.NewCatalog()
	if *flags.openaiKey == "" {
		slog.Debug("No OpenAI API key, intent validator not registered")
		return catalog
	}
	client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
	if err != nil {
		slog.Error("Failed to create GenAI client, continuing without intent validator", "error", err)
		return catalog
	}
	catalog.Register("intent", validators.NewIntentValidator(client))
	slog.Info("GenAI intent validator registered")
	return catalog
}

// buildChannel creates the configured messaging service.
func buildChannel(flags Flags) (messaging.Service, error) {
	if *flags.channel == "twilio" {
		return messaging.NewTwilioService(
			messaging.WithTwilioAccountSID(*flags.twilioSID),
			messaging.WithTwilioAuthToken(*flags.twilioToken),
			messaging.WithTwilioFromNumber(*flags.twilioFrom),
		)
	}

	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.whatsappDSN)}
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, err
	}
	return messaging.NewWhatsAppService(client), nil
}

// buildEvaluatorOptions assembles the rule evaluator configuration from the
// environment toggles.
func buildEvaluatorOptions(flags Flags) []rules.Option {
	var opts []rules.Option
	if util.ParseBoolEnv("BLOCK_PERSONAL_CONTACTS", false) {
		opts = append(opts, rules.WithBlockPersonalContacts())
	}
	if util.ParseBoolEnv("BLOCK_GROUP_CHATS", true) {
		opts = append(opts, rules.WithBlockGroupChats())
	}
	if util.ParseBoolEnv("BLOCK_STATUS_UPDATES", true) {
		opts = append(opts, rules.WithBlockStatusUpdates())
	}
	if util.ParseBoolEnv("BLOCK_ARCHIVED_CHATS", false) {
		opts = append(opts, rules.WithBlockArchivedChats())
	}
	if *flags.activation != "" {
		keywords := strings.Split(*flags.activation, ",")
		for i := range keywords {
			keywords[i] = strings.TrimSpace(keywords[i])
		}
		opts = append(opts, rules.WithActivationKeywords(keywords...))
	}
	if *flags.resetKeyword != "" {
		opts = append(opts, rules.WithResetKeyword(*flags.resetKeyword))
	}
	return opts
}

// run wires every component together and blocks until shutdown.
func run(ctx context.Context, flags Flags) error {
	leads, err := buildLeadStore(flags)
	if err != nil {
		return err
	}

	def, err := flow.LoadDefinition(*flags.flowPath)
	if err != nil {
		return err
	}

	var availability flow.AvailabilityProvider = integrations.StaticAvailability{}
	if *flags.availabilityPath != "" {
		avail, err := integrations.LoadAvailabilityFile(*flags.availabilityPath)
		if err != nil {
			return err
		}
		availability = avail
	}

	registry := flow.NewRegistry(flow.Deps{
		Loader:       flow.NewMessageLoader(filepath.Dir(*flags.flowPath)),
		Availability: availability,
		Catalog:      buildCatalog(flags),
	})

	// Concrete calendar/spreadsheet/CRM clients are deployment-specific;
	// the notifier skips nil collaborators.
	notifier := integrations.NewNotifier(nil, nil, nil)

	var engOpts []engine.Option
	if *flags.resetKeyword != "" {
		engOpts = append(engOpts, engine.WithResetKeyword(*flags.resetKeyword))
	}
	eng := engine.New(def, registry, leads, notifier, engOpts...)

	evaluator := rules.NewEvaluator(leads, buildEvaluatorOptions(flags)...)

	channel, err := buildChannel(flags)
	if err != nil {
		return err
	}
	if err := channel.Start(ctx); err != nil {
		return err
	}
	defer channel.Stop()

	dispatcher := messaging.NewDispatcher(channel, evaluator, eng)
	go dispatcher.Run(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	maintenance := scheduler.NewMaintenance(leads, eng, channel.SendMessage)
	if err := maintenance.Register(sched); err != nil {
		return err
	}

	apiOpts := []api.Option{api.WithFlowPath(*flags.flowPath)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if twilio, ok := channel.(*messaging.TwilioService); ok {
		apiOpts = append(apiOpts, api.WithWebhook(twilio.WebhookHandler()))
	}
	server := api.NewServer(leads, eng, apiOpts...)

	slog.Info("LeadFlow bootstrapped", "channel", *flags.channel, "flow", *flags.flowPath)
	return server.Run(ctx)
}
