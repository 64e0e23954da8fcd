package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type StorageBackend string

const (
	BackendMemory   StorageBackend = "memory"
	BackendSQLite   StorageBackend = "sqlite"
	BackendPostgres StorageBackend = "postgres"
)

// ErrInvalid wraps every configuration validation failure.
var ErrInvalid = fmt.Errorf("invalid config")

// SignalWeights are the multipliers applied to the five scoring signals.
// They must sum to 1.0 so that a candidate with every feature maxed scores
// exactly 1.0 before boosts.
type SignalWeights struct {
	Graph         float64 `json:"s1"`
	SharedFunders float64 `json:"s2"`
	SharedCounter float64 `json:"s3"`
	Behavioral    float64 `json:"s4"`
	Temporal      float64 `json:"s5"`
}

func (w SignalWeights) Sum() float64 {
	return w.Graph + w.SharedFunders + w.SharedCounter + w.Behavioral + w.Temporal
}

// Boosts are additive bonuses applied after the weighted sum, before clamping.
type Boosts struct {
	SameSlot      float64 `json:"same_slot"`
	SyncWindows   float64 `json:"sync_windows"`
	SharedFunders float64 `json:"shared_funders"`
	SharedCounter float64 `json:"shared_cp"`
}

// Defaults hold the request parameters used when a caller omits them.
type Defaults struct {
	Depth        int
	Threshold    float64
	Limit        int
	LookbackDays int
}

type Config struct {
	// Solana RPC
	RPCEndpoint        string
	RateLimitPerMinute int
	RPCRetryAttempts   int

	// Storage
	StorageBackend StorageBackend
	DBPath         string
	PostgresURL    string

	// Scoring
	Weights  SignalWeights
	Boosts   Boosts
	Defaults Defaults
	CexCap   float64

	// Known centralized-exchange hot wallets. Candidates that match are
	// excluded from the organic list and handled by the CEX-hop path.
	KnownExchanges map[string]string

	// Request handling
	DeadlineSeconds int
	MaxDepth        int

	// CEX-hop
	CexHopWindowSeconds int
	CexBootstrapLimit   int

	// Serve mode
	APIPort        int
	RescanCronSpec string
	TrackedWallets []string

	// Ingestion
	IngestConcurrency int
	SignatureLimit    int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		RPCEndpoint:        envOr("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		RateLimitPerMinute: envInt("RPC_RATE_LIMIT_PER_MINUTE", 60),
		RPCRetryAttempts:   envInt("RPC_RETRY_ATTEMPTS", 3),

		StorageBackend: StorageBackend(envOr("STORAGE_BACKEND", "sqlite")),
		DBPath:         envOr("DB_PATH", "sidewallet.db"),
		PostgresURL:    os.Getenv("DATABASE_URL"),

		Weights: SignalWeights{
			Graph:         envFloat("WEIGHT_S1_GRAPH", 0.30),
			SharedFunders: envFloat("WEIGHT_S2_FUNDERS", 0.25),
			SharedCounter: envFloat("WEIGHT_S3_COUNTERPARTIES", 0.20),
			Behavioral:    envFloat("WEIGHT_S4_BEHAVIOR", 0.15),
			Temporal:      envFloat("WEIGHT_S5_TEMPORAL", 0.10),
		},
		Boosts: Boosts{
			SameSlot:      envFloat("BOOST_SAME_SLOT", 0.08),
			SyncWindows:   envFloat("BOOST_SYNC_WINDOWS", 0.10),
			SharedFunders: envFloat("BOOST_SHARED_FUNDERS", 0.06),
			SharedCounter: envFloat("BOOST_SHARED_CP", 0.03),
		},
		Defaults: Defaults{
			Depth:        envInt("DEFAULT_DEPTH", 2),
			Threshold:    envFloat("DEFAULT_THRESHOLD", 0.10),
			Limit:        envInt("DEFAULT_LIMIT", 50),
			LookbackDays: envInt("DEFAULT_LOOKBACK_DAYS", 30),
		},
		CexCap: envFloat("CEX_CAP", 0.35),

		DeadlineSeconds: envInt("DEADLINE_SECONDS", 30),
		MaxDepth:        envInt("MAX_DEPTH", 5),

		CexHopWindowSeconds: envInt("CEX_HOP_WINDOW_SECONDS", 21600),
		CexBootstrapLimit:   envInt("CEX_BOOTSTRAP_LIMIT", 200),

		APIPort:        envInt("API_PORT", 8080),
		RescanCronSpec: envOr("RESCAN_CRON", "@every 10m"),
		TrackedWallets: splitTrim(os.Getenv("TRACKED_WALLETS")),

		IngestConcurrency: envInt("INGEST_CONCURRENCY", 4),
		SignatureLimit:    envInt("SIGNATURE_LIMIT", 200),
	}

	cfg.KnownExchanges = map[string]string{}
	for addr, label := range DefaultKnownExchanges {
		cfg.KnownExchanges[addr] = label
	}
	// "addr:label,addr:label" extends the built-in set
	for _, e := range splitTrim(os.Getenv("KNOWN_EXCHANGES")) {
		parts := strings.SplitN(e, ":", 2)
		label := "cex"
		if len(parts) == 2 {
			label = parts[1]
		}
		cfg.KnownExchanges[parts[0]] = label
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if math.Abs(c.Weights.Sum()-1.0) > 0.001 {
		return fmt.Errorf("%w: signal weights sum to %.3f, want 1.0", ErrInvalid, c.Weights.Sum())
	}
	for name, b := range map[string]float64{
		"same_slot": c.Boosts.SameSlot, "sync_windows": c.Boosts.SyncWindows,
		"shared_funders": c.Boosts.SharedFunders, "shared_cp": c.Boosts.SharedCounter,
	} {
		if b < 0 || b > 0.25 {
			return fmt.Errorf("%w: boost %s=%.3f outside [0, 0.25]", ErrInvalid, name, b)
		}
	}
	switch c.StorageBackend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("%w: STORAGE_BACKEND=postgres requires DATABASE_URL", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalid, c.StorageBackend)
	}
	if c.Defaults.Depth < 1 || c.Defaults.Depth > c.MaxDepth {
		return fmt.Errorf("%w: default depth %d outside [1, %d]", ErrInvalid, c.Defaults.Depth, c.MaxDepth)
	}
	if c.Defaults.Threshold < 0 || c.Defaults.Threshold > 1 {
		return fmt.Errorf("%w: default threshold %.2f outside [0, 1]", ErrInvalid, c.Defaults.Threshold)
	}
	if c.CexCap < 0 || c.CexCap > 1 {
		return fmt.Errorf("%w: cex cap %.2f outside [0, 1]", ErrInvalid, c.CexCap)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("%w: rate limit must be positive", ErrInvalid)
	}
	return nil
}

// IsKnownExchange reports whether the address belongs to a known CEX and its label.
func (c *Config) IsKnownExchange(address string) (string, bool) {
	label, ok := c.KnownExchanges[address]
	return label, ok
}

func (c *Config) Deadline() time.Duration {
	return time.Duration(c.DeadlineSeconds) * time.Second
}

// --- Known exchange hot wallets (Solana mainnet) ---

var DefaultKnownExchanges = map[string]string{
	"5tzFkiKscXHK5ZXCGbXZxdw7gTjjD1mBwuoFbhUvuAi9": "binance",
	"9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM": "binance",
	"2ojv9BAiHUrvsm9gxDe7fJSzbNZSJcxZvf8dqmWGHG8S": "binance",
	"H8sMJSCQxfKiFTCfDR3DUMLPwcRbM61LGFJ8N4dK3WjS": "coinbase",
	"GJRs4FwHtemZ5ZE9x3FNvJ8TMwitKTh21yxdRPqn7npE": "coinbase",
	"AC5RDfQFmDS1deWZos921JfqscXdByf8BKHs5ACWjtW2": "bybit",
	"5VCwKtCXgCJ6kit5FybXjvriW3xELsFDhYrPSqtJNmcD": "okx",
	"ASTyfSima4LLAdDgoFGkgqoKowG1LZFDr9fAQrg7iaJZ": "mexc",
	"u6PJ8DtQuPFnfmwHbGFULQ4u4EgjDiyYKjVEsynXq2w":  "gate",
	"FWznbcNXWQuHTawe9RxvQ2LdCENssh12dsznf4RiouN5": "kraken",
}

// helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
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

func splitTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
