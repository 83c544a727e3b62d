package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"
)

// Pool holds the construction-time pool parameters. RefundCap stays a decimal
// string until the pool package parses it into a 256-bit amount.
type Pool struct {
	RoundLength uint64 `yaml:"round_length"`
	RoundCount  uint64 `yaml:"round_count"`
	StartHeight int64  `yaml:"start_height"`
	RefundCap   string `yaml:"refund_cap"`
	FundPercent uint64 `yaml:"fund_percent"`
	FundAddress string `yaml:"fund_address"`
	Owner       string `yaml:"owner"`
	Address     string `yaml:"address"`
}

// DefaultPool mirrors the testnet deployment: ~5 minute rounds for ~30 days.
func DefaultPool() Pool {
	return Pool{
		RoundLength: 100,
		RoundCount:  8640,
		RefundCap:   "10",
		FundPercent: 50,
		Address:     "burnpile",
	}
}

type Config struct {
	RPCURL    string
	WSPath    string
	DBDialect string // postgres only
	DBDsn     string // DSN string passed to GORM driver
	Debug     bool
	// FixedHeight, when set, replaces the node clock; handy without a node.
	FixedHeight int64
	PoolFile    string
	Pool        Pool
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvUint(key string, def uint64) (uint64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvInt(key string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		// url.Error repeats the input, password included.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", "", fmt.Errorf("malformed URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

// LoadPoolFile reads pool parameters from a YAML file on top of base.
func LoadPoolFile(path string, base Pool) (Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pool{}, fmt.Errorf("read pool file: %w", err)
	}
	p := base
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Pool{}, fmt.Errorf("parse pool file %s: %w", path, err)
	}
	return p, nil
}

// Load reads the environment. Pool parameters come from the defaults, then
// POOL_CONFIG_FILE, then POOL_* variables.
func Load() (Config, error) {
	cfg := Config{
		RPCURL:   getenv("RPC_URL", "http://localhost:26657"),
		WSPath:   getenv("WS_PATH", "/websocket"),
		Debug:    getenvBool("DEBUG", false),
		PoolFile: os.Getenv("POOL_CONFIG_FILE"),
		Pool:     DefaultPool(),
	}

	var err error
	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		if cfg.DBDialect, cfg.DBDsn, err = parseDatabaseURL(dbURL); err != nil {
			return Config{}, fmt.Errorf("DATABASE_URL: %w", err)
		}
	}

	if cfg.FixedHeight, err = getenvInt("CLOCK_HEIGHT", 0); err != nil {
		return Config{}, err
	}

	if cfg.PoolFile != "" {
		if cfg.Pool, err = LoadPoolFile(cfg.PoolFile, cfg.Pool); err != nil {
			return Config{}, err
		}
	}

	p := &cfg.Pool
	if p.RoundLength, err = getenvUint("POOL_ROUND_LENGTH", p.RoundLength); err != nil {
		return Config{}, err
	}
	if p.RoundCount, err = getenvUint("POOL_ROUND_COUNT", p.RoundCount); err != nil {
		return Config{}, err
	}
	if p.FundPercent, err = getenvUint("POOL_FUND_PERCENT", p.FundPercent); err != nil {
		return Config{}, err
	}
	if p.StartHeight, err = getenvInt("POOL_START_HEIGHT", p.StartHeight); err != nil {
		return Config{}, err
	}
	p.RefundCap = getenv("POOL_REFUND_CAP", p.RefundCap)
	p.FundAddress = getenv("POOL_FUND_ADDRESS", p.FundAddress)
	p.Owner = getenv("POOL_OWNER", p.Owner)
	p.Address = getenv("POOL_ADDRESS", p.Address)

	return cfg, cfg.Validate()
}

// Validate checks what can be checked without the pool package.
func (c Config) Validate() error {
	p := c.Pool
	switch {
	case p.RoundLength == 0:
		return fmt.Errorf("round length must be positive")
	case p.RoundCount == 0:
		return fmt.Errorf("round count must be positive")
	case p.FundPercent > 100:
		return fmt.Errorf("fund percent %d exceeds 100", p.FundPercent)
	case strings.TrimSpace(p.FundAddress) == "":
		return fmt.Errorf("POOL_FUND_ADDRESS is required")
	case strings.TrimSpace(p.Owner) == "":
		return fmt.Errorf("POOL_OWNER is required")
	case strings.TrimSpace(p.Address) == "":
		return fmt.Errorf("POOL_ADDRESS is required")
	}
	return nil
}

func (c Config) WSURL() string {
	// cometbft http client expects a separate ws endpoint path
	return c.WSPath
}

func (c Config) String() string {
	return fmt.Sprintf("rpc=%s ws_path=%s db=%s", c.RPCURL, c.WSPath, c.DBDialect)
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"rpc=%s ws_path=%s db=%s dsn=%s round_length=%d round_count=%d refund_cap=%s fund=%s (%d%%) owner=%s",
		c.RPCURL,
		c.WSPath,
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
		c.Pool.RoundLength,
		c.Pool.RoundCount,
		c.Pool.RefundCap,
		c.Pool.FundAddress,
		c.Pool.FundPercent,
		c.Pool.Owner,
	)
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			if u.User != nil {
				username := u.User.Username()
				u.User = url.User(username)
			}
			return u.String()
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}
