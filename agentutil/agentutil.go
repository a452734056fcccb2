// Package agentutil holds the process-level plumbing shared by the Rio search
// server: configuration loading and language model construction.
package agentutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"

	"riosearch/internal/audit"
	"riosearch/internal/logging"
	"riosearch/internal/model"
	"riosearch/internal/policy"
)

const (
	defaultModelVendor      = "gemini"
	defaultModelName        = "gemini-2.5-flash"
	defaultHTTPTimeout      = 30 * time.Second
	defaultRequestTimeout   = 10 * time.Minute
	defaultMaxSteps         = 100
	defaultMaxContinuations = 3
	defaultOutboundRPS      = 5.0
)

// Config holds the server configuration read from RIO_* env vars.
type Config struct {
	ModelVendor string
	ModelName   string
	APIKey      string

	SearchAPIKey string
	SearchURL    string // empty means the provider default
	ReaderURL    string

	HTTPTimeout    time.Duration // per outbound call
	RequestTimeout time.Duration // per citizen query

	MaxSteps         int
	MinToolCalls     int // 0 keeps the policy's min_tool_calls
	MaxContinuations int
	OutboundRPS      float64 // 0 disables rate limiting

	PolicyFile   string
	PolicyDryRun bool

	AuditDSN string // empty disables auditing
}

// LoadConfig reads the configuration through getenv. It fails when a
// credential is missing or a value does not parse.
func LoadConfig(getenv func(string) string) (Config, error) {
	cfg := Config{
		ModelVendor:  strings.ToLower(getOrDefault(getenv, "RIO_MODEL_VENDOR", defaultModelVendor)),
		ModelName:    getOrDefault(getenv, "RIO_MODEL_NAME", defaultModelName),
		APIKey:       firstOf(getenv, "RIO_API_KEY", "GOOGLE_API_KEY"),
		SearchAPIKey: firstOf(getenv, "RIO_SEARCH_API_KEY", "JINA_API_KEY"),
		SearchURL:    getenv("RIO_SEARCH_URL"),
		ReaderURL:    getenv("RIO_READER_URL"),
		PolicyFile:   getenv("RIO_POLICY_FILE"),
		AuditDSN:     getenv("RIO_AUDIT_DSN"),
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	cfg.HTTPTimeout, err = getDuration(getenv, "RIO_HTTP_TIMEOUT", defaultHTTPTimeout)
	collect(err)
	cfg.RequestTimeout, err = getDuration(getenv, "RIO_REQUEST_TIMEOUT", defaultRequestTimeout)
	collect(err)
	cfg.MaxSteps, err = getInt(getenv, "RIO_MAX_STEPS", defaultMaxSteps)
	collect(err)
	cfg.MinToolCalls, err = getInt(getenv, "RIO_MIN_TOOL_CALLS", 0)
	collect(err)
	cfg.MaxContinuations, err = getInt(getenv, "RIO_MAX_CONTINUATIONS", defaultMaxContinuations)
	collect(err)
	cfg.OutboundRPS, err = getFloat(getenv, "RIO_OUTBOUND_RPS", defaultOutboundRPS)
	collect(err)
	cfg.PolicyDryRun, err = getBool(getenv, "RIO_POLICY_DRY_RUN", false)
	collect(err)

	if cfg.SearchAPIKey == "" {
		collect(errors.New("RIO_SEARCH_API_KEY (or JINA_API_KEY) is required"))
	}
	if cfg.APIKey == "" {
		collect(errors.New("RIO_API_KEY (or GOOGLE_API_KEY) is required"))
	}
	switch cfg.ModelVendor {
	case "gemini", "google", "anthropic":
	default:
		collect(fmt.Errorf("RIO_MODEL_VENDOR: unknown vendor %q (supported: gemini, google, anthropic)", cfg.ModelVendor))
	}
	if cfg.MaxSteps < 1 {
		collect(fmt.Errorf("RIO_MAX_STEPS must be positive, got %d", cfg.MaxSteps))
	}
	if cfg.MinToolCalls < 0 || cfg.MaxContinuations < 0 || cfg.OutboundRPS < 0 {
		collect(errors.New("RIO_MIN_TOOL_CALLS, RIO_MAX_CONTINUATIONS and RIO_OUTBOUND_RPS must not be negative"))
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// MustLoadConfig loads an optional .env file, initialises logging and reads
// the configuration. It exits the process when the configuration is invalid.
// The returned args have logging flags stripped.
func MustLoadConfig() (Config, []string) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	args := logging.InitLogging(os.Args[1:])

	cfg, err := LoadConfig(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	return cfg, args
}

// NewLLM creates the language model named by cfg.ModelVendor.
func NewLLM(ctx context.Context, cfg Config) (adkmodel.LLM, error) {
	switch cfg.ModelVendor {
	case "google", "gemini":
		llm, err := gemini.NewModel(ctx, cfg.ModelName, &genai.ClientConfig{APIKey: cfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("create Gemini model: %w", err)
		}
		slog.Info("using model", "vendor", "gemini", "model", cfg.ModelName)
		return llm, nil

	case "anthropic":
		llm, err := model.NewAnthropicModel(ctx, cfg.ModelName, cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("create Anthropic model: %w", err)
		}
		slog.Info("using model", "vendor", "anthropic", "model", cfg.ModelName)
		return llm, nil

	default:
		return nil, fmt.Errorf("unknown model vendor: %s (supported: google, gemini, anthropic)", cfg.ModelVendor)
	}
}

// InitPolicyEngine loads RIO_POLICY_FILE, or the default policy when unset,
// and applies the RIO_MIN_TOOL_CALLS override.
func InitPolicyEngine(cfg Config) (*policy.Engine, error) {
	pc := policy.DefaultConfig()
	if cfg.PolicyFile != "" {
		loaded, err := policy.LoadFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("load policy file: %w", err)
		}
		pc = loaded
	}
	if cfg.MinToolCalls > 0 {
		pc.MinToolCalls = cfg.MinToolCalls
	}

	engine, err := policy.NewEngine(policy.EngineConfig{PolicyConfig: pc, DryRun: cfg.PolicyDryRun})
	if err != nil {
		return nil, err
	}
	slog.Info("policy engine initialized",
		"file", cfg.PolicyFile,
		"min_tool_calls", engine.MinToolCalls(),
		"dry_run", cfg.PolicyDryRun)
	if cfg.PolicyDryRun {
		slog.Warn("policy dry run: blocking violations are logged but answers are released")
	}
	return engine, nil
}

// InitAuditStore opens the audit store named by RIO_AUDIT_DSN. It returns
// nil, nil when auditing is disabled.
func InitAuditStore(cfg Config) (*audit.Store, error) {
	if cfg.AuditDSN == "" {
		return nil, nil
	}
	store, err := audit.NewStore(audit.StoreConfig{DSN: cfg.AuditDSN})
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	slog.Info("audit enabled", "postgres", store.IsPostgres(), "last_hash", store.GetLastHash()[:12])

	// A broken chain is logged; serving continues.
	if _, err := CheckAuditChain(context.Background(), store); err != nil {
		slog.Error("audit chain verification failed", "err", err)
	}
	return store, nil
}

// ErrAuditChainBroken is returned by CheckAuditChain for a tampered chain.
var ErrAuditChainBroken = errors.New("audit hash chain is broken")

// CheckAuditChain verifies the stored hash chain and logs the result.
func CheckAuditChain(ctx context.Context, store *audit.Store) (audit.ChainStatus, error) {
	status, err := store.VerifyIntegrity(ctx)
	if err != nil {
		return status, fmt.Errorf("verify audit chain: %w", err)
	}
	if !status.Valid {
		return status, fmt.Errorf("%w at event %d of %d: %s", ErrAuditChainBroken, status.BrokenAt, status.TotalEvents, status.Error)
	}
	slog.Debug("audit chain verified", "events", status.TotalEvents)
	return status, nil
}

func getOrDefault(getenv func(string) string, key, def string) string {
	if val := getenv(key); val != "" {
		return val
	}
	return def
}

// firstOf returns the first non-empty value among keys.
func firstOf(getenv func(string) string, keys ...string) string {
	for _, key := range keys {
		if val := getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func getInt(getenv func(string) string, key string, def int) (int, error) {
	val := getenv(key)
	if val == "" {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(getenv func(string) string, key string, def float64) (float64, error) {
	val := getenv(key)
	if val == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getBool(getenv func(string) string, key string, def bool) (bool, error) {
	val := getenv(key)
	if val == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	val := getenv(key)
	if val == "" {
		return def, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, val)
	}
	return d, nil
}
