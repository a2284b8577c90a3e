package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	minProbeTimeout   = 100 * time.Millisecond
	maxProbeTimeout   = 2 * time.Minute
	minParallelWidth  = 1
	maxParallelWidth  = 16
	maxMarginPercent  = 500
	minSubmitTimeout  = 100 * time.Millisecond
	maxSubmitTimeout  = 10 * time.Minute
	maxConfirmTimeout = 30 * time.Minute
	maxRateLimit      = 200
	minRateLimit      = 0
	maxGasLimit       = 30_000_000
	minGasLimit       = 21_000
)

// ErrMissingContract is returned by Validate when SMART_CONTRACT_ADDRESS is unset.
var ErrMissingContract = errors.New("SMART_CONTRACT_ADDRESS environment variable is required")

// Config holds 12-factor environment configuration used across binaries.
type Config struct {
	ContractAddress string
	PrivateKey      string
	OracleAddress   string
	RPCURL          string
	EndpointsFile   string
	ChainID         int64
	ExplorerURL     string

	ProbeTimeout         time.Duration
	ParallelWidth        int
	FeeTimeout           time.Duration
	FeeMarginPercent     int
	FallbackGasPriceGwei int
	MaxGasPriceGwei      int
	GasLimit             int
	SubmitTimeout        time.Duration
	BalanceTimeout       time.Duration
	WaitConfirmation     bool
	ConfirmTimeout       time.Duration
	ConfirmPollInterval  time.Duration
	RateLimit            int

	ClickHouseDSN  string
	AuditTable     string
	IPFSGatewayURL string
	HTTPAddr       string
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

func parseDurEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func parseBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampDuration(v, min, max time.Duration) time.Duration {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// BuildClickHouseDSN assembles a ClickHouse DSN from individual env vars if provided.
// Prefers CLICKHOUSE_DSN if set; otherwise tries CLICKHOUSE_URL/DB/USER/PASS.
func BuildClickHouseDSN() string {
	if dsn := env("CLICKHOUSE_DSN", ""); dsn != "" {
		return dsn
	}
	base := env("CLICKHOUSE_URL", "")
	db := env("CLICKHOUSE_DB", "")
	if base == "" || db == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + db
	}
	if user := env("CLICKHOUSE_USER", ""); user != "" {
		if pass := env("CLICKHOUSE_PASS", ""); pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}
	p := strings.TrimRight(u.Path, "/")
	switch {
	case p == "":
		u.Path = "/" + db
	case strings.HasSuffix(p, "/"+db):
		u.Path = p
	default:
		u.Path = p + "/" + db
	}
	return u.String()
}

// RedactDSN hides credentials in DSN-like URLs to avoid logging secrets.
func RedactDSN(s string) string {
	if s == "" {
		return s
	}
	if u, err := url.Parse(s); err == nil && u.User != nil {
		if name := u.User.Username(); name != "" {
			u.User = url.UserPassword(name, "***")
		} else {
			u.User = url.User("***")
		}
		return u.String()
	}
	i := strings.Index(s, "//")
	if i < 0 {
		return s
	}
	j := strings.Index(s[i+2:], "@")
	if j <= 0 {
		return s
	}
	creds := s[i+2 : i+2+j]
	if !strings.Contains(creds, ":") {
		return s
	}
	user := strings.SplitN(creds, ":", 2)[0]
	return s[:i+2] + user + ":***@" + s[i+2+j+1:]
}

// Load reads environment variables and returns a Config with defaults applied.
func Load() Config {
	chainID, err := strconv.ParseInt(env("CHAIN_ID", "97"), 10, 64)
	if err != nil || chainID < 0 {
		chainID = 97
	}
	return Config{
		ContractAddress: strings.TrimSpace(env("SMART_CONTRACT_ADDRESS", "")),
		PrivateKey:      strings.TrimSpace(env("ORACLE_PRIVATE_KEY", "")),
		OracleAddress:   strings.TrimSpace(env("ORACLE_ADDRESS", "")),
		RPCURL:          strings.TrimSpace(env("RPC_URL", "")),
		EndpointsFile:   env("RPC_ENDPOINTS_FILE", ""),
		ChainID:         chainID,
		ExplorerURL:     strings.TrimRight(env("EXPLORER_URL", "https://testnet.bscscan.com"), "/"),

		ProbeTimeout:         clampDuration(parseDurEnv("PROBE_TIMEOUT", 10*time.Second), minProbeTimeout, maxProbeTimeout),
		ParallelWidth:        clampInt(parseIntEnv("PARALLEL_WIDTH", 3), minParallelWidth, maxParallelWidth),
		FeeTimeout:           clampDuration(parseDurEnv("FEE_TIMEOUT", 5*time.Second), minProbeTimeout, maxProbeTimeout),
		FeeMarginPercent:     clampInt(parseIntEnv("FEE_MARGIN_PERCENT", 20), 0, maxMarginPercent),
		FallbackGasPriceGwei: clampInt(parseIntEnv("FALLBACK_GAS_PRICE_GWEI", 10), 1, 10_000),
		MaxGasPriceGwei:      clampInt(parseIntEnv("MAX_GAS_PRICE_GWEI", 100), 1, 100_000),
		GasLimit:             clampInt(parseIntEnv("GAS_LIMIT", 300_000), minGasLimit, maxGasLimit),
		SubmitTimeout:        clampDuration(parseDurEnv("SUBMIT_TIMEOUT", 20*time.Second), minSubmitTimeout, maxSubmitTimeout),
		BalanceTimeout:       clampDuration(parseDurEnv("BALANCE_TIMEOUT", 10*time.Second), minProbeTimeout, maxProbeTimeout),
		WaitConfirmation:     parseBoolEnv("WAIT_CONFIRMATION", false),
		ConfirmTimeout:       clampDuration(parseDurEnv("CONFIRM_TIMEOUT", 60*time.Second), minSubmitTimeout, maxConfirmTimeout),
		ConfirmPollInterval:  clampDuration(parseDurEnv("CONFIRM_POLL_INTERVAL", 2*time.Second), 10*time.Millisecond, time.Minute),
		RateLimit:            clampInt(parseIntEnv("RATE_LIMIT", 0), minRateLimit, maxRateLimit),

		ClickHouseDSN:  BuildClickHouseDSN(),
		AuditTable:     env("AUDIT_TABLE", "oracle_submissions"),
		IPFSGatewayURL: strings.TrimRight(env("IPFS_GATEWAY_URL", "https://ipfs.io"), "/"),
		HTTPAddr:       env("HTTP_ADDR", ":8000"),
	}
}

// Validate reports configuration that makes every operation impossible.
func (c Config) Validate() error {
	if c.ContractAddress == "" {
		return ErrMissingContract
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("SMART_CONTRACT_ADDRESS %q is not a hex address", c.ContractAddress)
	}
	if c.OracleAddress != "" && !common.IsHexAddress(c.OracleAddress) {
		return fmt.Errorf("ORACLE_ADDRESS %q is not a hex address", c.OracleAddress)
	}
	return nil
}
