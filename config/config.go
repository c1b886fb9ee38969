// Package config loads node settings from flags, environment variables
// and an optional config file.
//
// Precedence follows viper: explicit flags, then CHAINVM_* environment
// variables, then the config file, then defaults. Environment names are
// the keys upper-cased with dots and dashes replaced by underscores, so
// gas.limit is CHAINVM_GAS_LIMIT.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/chainvm/chainctx"
	"github.com/wippyai/chainvm/engine"
	"github.com/wippyai/chainvm/runtime"
)

const (
	ConfigFileKey     = "config"
	DataDirKey        = "data-dir"
	GasLimitKey       = "gas.limit"
	GasFactorKey      = "gas.factor"
	DepthLimitKey     = "depth.limit"
	StepLimitKey      = "step.limit"
	MemoryMaxPagesKey = "memory.max-pages"
	CacheEntriesKey   = "cache.entries"
	CacheTTLKey       = "cache.ttl"
	RPCAddrKey        = "rpc.addr"
	LogLevelKey       = "log.level"
	LogFileKey        = "log.file"
	TraceEndpointKey  = "trace.endpoint"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CHAINVM"

// Config is the resolved node configuration.
type Config struct {
	// DataDir holds the leveldb state. Empty keeps state in memory.
	DataDir        string
	RPCAddr        string
	LogLevel       string
	LogFile        string
	TraceEndpoint  string
	CacheTTL       time.Duration
	GasLimit       uint64
	GasFactor      uint64
	DepthLimit     uint64
	StepLimit      uint64
	CacheEntries   int
	MemoryMaxPages uint32
}

// BuildFlagSet returns the flags Load understands, with their defaults.
func BuildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("chainvm", pflag.ContinueOnError)
	AddFlags(fs)
	return fs
}

// AddFlags registers the configuration flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(ConfigFileKey, "", "config file (yaml, json or toml)")
	fs.String(DataDirKey, "", "state directory, in-memory when empty")
	fs.Uint64(GasLimitKey, runtime.DefaultGasLimit, "gas limit of transactions and deployments")
	fs.Uint64(GasFactorKey, 1, "execution steps per unit of gas")
	fs.Uint64(DepthLimitKey, chainctx.DefaultDepth, "nested call budget per transaction")
	fs.Uint64(StepLimitKey, chainctx.DefaultStepLimit, "execution step limit per transaction")
	fs.Uint32(MemoryMaxPagesKey, engine.DefaultMemoryPages, "linear memory limit in 64KiB pages")
	fs.Int(CacheEntriesKey, engine.DefaultCacheEntries, "compiled modules kept in memory")
	fs.Duration(CacheTTLKey, engine.DefaultCacheTTL, "lifetime of cached instrumented code")
	fs.String(RPCAddrKey, "127.0.0.1:20336", "JSON-RPC listen address")
	fs.String(LogLevelKey, "info", "log level: debug, info, warn or error")
	fs.String(LogFileKey, "", "log file with rotation, stderr when empty")
	fs.String(TraceEndpointKey, "", "OTLP/HTTP trace endpoint, tracing disabled when empty")
}

// Load resolves the configuration from fs, the environment and the config
// file named by the config flag. fs must have been parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v, err := getViper(fs)
	if err != nil {
		return nil, err
	}
	c := &Config{
		DataDir:        v.GetString(DataDirKey),
		RPCAddr:        v.GetString(RPCAddrKey),
		LogLevel:       v.GetString(LogLevelKey),
		LogFile:        v.GetString(LogFileKey),
		TraceEndpoint:  v.GetString(TraceEndpointKey),
		CacheTTL:       v.GetDuration(CacheTTLKey),
		GasLimit:       v.GetUint64(GasLimitKey),
		GasFactor:      v.GetUint64(GasFactorKey),
		DepthLimit:     v.GetUint64(DepthLimitKey),
		StepLimit:      v.GetUint64(StepLimitKey),
		CacheEntries:   v.GetInt(CacheEntriesKey),
		MemoryMaxPages: v.GetUint32(MemoryMaxPagesKey),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func getViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	if file := v.GetString(ConfigFileKey); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return v, nil
}

// Validate rejects settings no runtime can start with.
func (c *Config) Validate() error {
	switch {
	case c.GasLimit == 0:
		return fmt.Errorf("%s must be positive", GasLimitKey)
	case c.GasFactor == 0:
		return fmt.Errorf("%s must be positive", GasFactorKey)
	case c.StepLimit == 0:
		return fmt.Errorf("%s must be positive", StepLimitKey)
	case c.MemoryMaxPages == 0 || c.MemoryMaxPages > 65536:
		return fmt.Errorf("%s must be in 1..65536", MemoryMaxPagesKey)
	case c.CacheEntries <= 0:
		return fmt.Errorf("%s must be positive", CacheEntriesKey)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	l, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return l, fmt.Errorf("%s: %w", LogLevelKey, err)
	}
	return l, nil
}

// EngineConfig returns the engine settings.
func (c *Config) EngineConfig(log *zap.Logger) engine.Config {
	return engine.Config{
		Logger:           log,
		MemoryLimitPages: c.MemoryMaxPages,
		CacheEntries:     c.CacheEntries,
		CacheTTL:         c.CacheTTL,
	}
}

// Limits returns the transaction defaults.
func (c *Config) Limits() runtime.Limits {
	return runtime.Limits{
		Gas:       c.GasLimit,
		GasFactor: c.GasFactor,
		Depth:     runtime.Depth(c.DepthLimit),
		Steps:     c.StepLimit,
	}
}

// RuntimeOptions returns the runtime options this configuration implies.
func (c *Config) RuntimeOptions(log *zap.Logger) []runtime.Option {
	return []runtime.Option{
		runtime.WithLogger(log),
		runtime.WithEngineConfig(c.EngineConfig(log.Named("engine"))),
		runtime.WithLimits(c.Limits()),
	}
}
