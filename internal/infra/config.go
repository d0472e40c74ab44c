package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"ladder_go/internal/domain"
	"ladder_go/internal/strategy"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	LedgerModeRPC   = "rpc"
	LedgerModePaper = "paper"

	RuntimeExec   = "exec"
	RuntimeInline = "inline"
)

// Config holds every setting of the controller.
// LoadConfig reads the YAML file, then lets environment variables override secrets.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Ledger struct {
		Mode       string `yaml:"mode"` // rpc | paper
		RPCURL     string `yaml:"rpc_url"`
		APIKey     string `yaml:"api_key"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"ledger"`

	// Paper seeds the in-memory ledger in paper mode.
	Paper struct {
		BalanceA decimal.Decimal `yaml:"balance_a"`
		BalanceB decimal.Decimal `yaml:"balance_b"`
	} `yaml:"paper"`

	Pool struct {
		Contract string          `yaml:"contract"`
		AssetA   AssetConfig     `yaml:"asset_a"`
		AssetB   AssetConfig     `yaml:"asset_b"`
		SwapFee  decimal.Decimal `yaml:"swap_fee"`
	} `yaml:"pool"`

	Ladder struct {
		NumLevels       int             `yaml:"num_levels"`
		StepFraction    decimal.Decimal `yaml:"step_fraction"`
		OrderSize       decimal.Decimal `yaml:"order_size"`
		CancelOnRebuild bool            `yaml:"cancel_on_rebuild"`
	} `yaml:"ladder"`

	Timing struct {
		PollIntervalMS     int `yaml:"poll_interval_ms"`
		FillPollIntervalMS int `yaml:"fill_poll_interval_ms"`
		InitialSettleMS    int `yaml:"initial_settle_ms"`
		StartupGraceMS     int `yaml:"startup_grace_ms"`
		KillSettleMS       int `yaml:"kill_settle_ms"`
		RestartSettleMS    int `yaml:"restart_settle_ms"`
	} `yaml:"timing"`

	Supervisor struct {
		Runtime string   `yaml:"runtime"` // exec | inline
		Units   []string `yaml:"units"`
		Command []string `yaml:"command"` // defaults to the running binary
	} `yaml:"supervisor"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Monitor struct {
		Addr string `yaml:"addr"`
	} `yaml:"monitor"`

	Metrics struct {
		Addr        string            `yaml:"addr"`         // supervisor process
		WorkerAddrs map[string]string `yaml:"worker_addrs"` // unit -> addr, exec runtime only
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// AssetConfig describes one side of the pool.
type AssetConfig struct {
	Symbol   string          `yaml:"symbol"`
	Contract string          `yaml:"contract"`
	Weight   decimal.Decimal `yaml:"weight"`
}

// Default unit start order: balances first, then pricing, then orders.
var DefaultUnits = []string{"balances", "pricing", "orders"}

// LoadConfig reads and validates the configuration file.
func LoadConfig(path string) (*Config, error) {
	// .env is optional; secrets may also come from the real environment.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig decodes YAML, applies defaults and env overrides, and validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "ladder-go"
	}
	if c.Ledger.Mode == "" {
		c.Ledger.Mode = LedgerModeRPC
	}
	if c.Ledger.TimeoutSec <= 0 {
		c.Ledger.TimeoutSec = 30
	}
	if c.Ladder.NumLevels == 0 {
		c.Ladder.NumLevels = 10
	}
	if c.Ladder.StepFraction.IsZero() {
		c.Ladder.StepFraction = decimal.RequireFromString("0.005")
	}
	if c.Ladder.OrderSize.IsZero() {
		c.Ladder.OrderSize = decimal.NewFromInt(500)
	}

	defaultMS := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	defaultMS(&c.Timing.PollIntervalMS, 5000)
	defaultMS(&c.Timing.FillPollIntervalMS, 5000)
	defaultMS(&c.Timing.InitialSettleMS, 2000)
	defaultMS(&c.Timing.StartupGraceMS, 2000)
	defaultMS(&c.Timing.KillSettleMS, 2000)
	defaultMS(&c.Timing.RestartSettleMS, 2000)

	if c.Supervisor.Runtime == "" {
		c.Supervisor.Runtime = RuntimeExec
	}
	if c.Ledger.Mode == LedgerModePaper {
		// A paper ledger only exists in memory, so every unit has to share the process.
		c.Supervisor.Runtime = RuntimeInline
	}
	if len(c.Supervisor.Units) == 0 {
		c.Supervisor.Units = append([]string(nil), DefaultUnits...)
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/registry.db"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	// Ledger
	switch c.Ledger.Mode {
	case LedgerModeRPC:
		if !hasPrefix(c.Ledger.RPCURL, "http://") && !hasPrefix(c.Ledger.RPCURL, "https://") {
			return &domain.ConfigError{Field: "ledger.rpc_url", Err: fmt.Errorf("invalid URL %q", c.Ledger.RPCURL)}
		}
	case LedgerModePaper:
		if !c.Paper.BalanceA.IsPositive() || !c.Paper.BalanceB.IsPositive() {
			return &domain.ConfigError{Field: "paper", Err: errors.New("seed balances must be positive")}
		}
	default:
		return &domain.ConfigError{Field: "ledger.mode", Err: fmt.Errorf("unknown mode %q", c.Ledger.Mode)}
	}

	// Pool
	if c.Pool.Contract == "" {
		return &domain.ConfigError{Field: "pool.contract", Err: errors.New("required")}
	}
	for name, asset := range map[string]AssetConfig{"pool.asset_a": c.Pool.AssetA, "pool.asset_b": c.Pool.AssetB} {
		if asset.Contract == "" {
			return &domain.ConfigError{Field: name + ".contract", Err: errors.New("required")}
		}
		if !asset.Weight.IsPositive() {
			return &domain.ConfigError{Field: name + ".weight", Err: errors.New("must be positive")}
		}
	}
	if c.Pool.SwapFee.IsNegative() || c.Pool.SwapFee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return &domain.ConfigError{Field: "pool.swap_fee", Err: errors.New("must be in [0, 1)")}
	}

	// Ladder
	if c.Ladder.NumLevels < 1 {
		return &domain.ConfigError{Field: "ladder.num_levels", Err: errors.New("must be at least 1")}
	}
	if !c.Ladder.StepFraction.IsPositive() {
		return &domain.ConfigError{Field: "ladder.step_fraction", Err: errors.New("must be positive")}
	}
	if c.Ladder.StepFraction.Mul(decimal.NewFromInt(int64(c.Ladder.NumLevels))).GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return &domain.ConfigError{Field: "ladder.step_fraction", Err: errors.New("outermost buy level would be non-positive")}
	}
	if !c.Ladder.OrderSize.IsPositive() {
		return &domain.ConfigError{Field: "ladder.order_size", Err: errors.New("must be positive")}
	}

	// Supervisor
	if c.Supervisor.Runtime != RuntimeExec && c.Supervisor.Runtime != RuntimeInline {
		return &domain.ConfigError{Field: "supervisor.runtime", Err: fmt.Errorf("unknown runtime %q", c.Supervisor.Runtime)}
	}
	known := map[string]bool{}
	for _, u := range DefaultUnits {
		known[u] = true
	}
	for _, u := range c.Supervisor.Units {
		if !known[u] {
			return &domain.ConfigError{Field: "supervisor.units", Err: fmt.Errorf("unknown unit %q", u)}
		}
	}
	for u := range c.Metrics.WorkerAddrs {
		if !known[u] {
			return &domain.ConfigError{Field: "metrics.worker_addrs", Err: fmt.Errorf("unknown unit %q", u)}
		}
	}

	return nil
}

// PoolParams converts the pool section for the spot price model.
func (c *Config) PoolParams() strategy.PoolParams {
	return strategy.PoolParams{
		WeightA: c.Pool.AssetA.Weight,
		WeightB: c.Pool.AssetB.Weight,
		SwapFee: c.Pool.SwapFee,
	}
}

// Ms converts a millisecond setting to a duration.
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

// overrideWithEnv replaces endpoint and secret settings when the variables are present.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("LADDER_RPC_URL"); url != "" {
		cfg.Ledger.RPCURL = url
	}
	if key := os.Getenv("LADDER_RPC_API_KEY"); key != "" {
		cfg.Ledger.APIKey = key
	}
	if level := os.Getenv("LADDER_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
