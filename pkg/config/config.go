package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	// DefaultFile is read from the working directory when present.
	DefaultFile = "ds-audit.toml"
	envPrefix   = "DS_AUDIT_"
)

// Rule store backends.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Report formats for one-shot audits.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Config holds all configuration for the application
type Config struct {
	URL    string `koanf:"url"`
	Input  string `koanf:"input"`
	Format string `koanf:"format"`

	WebMode     bool `koanf:"web"`
	MCPMode     bool `koanf:"mcp"`
	Port        int  `koanf:"port"`
	OpenBrowser bool `koanf:"open"`

	FigmaToken   string        `koanf:"figma-token"`
	FigmaBaseURL string        `koanf:"figma-base-url"`
	FigmaTimeout time.Duration `koanf:"figma-timeout"`
	FrameCache   int           `koanf:"frame-cache"`

	RulesStore   string `koanf:"rules-store"`
	RulesFile    string `koanf:"rules-file"`
	PatternsFile string `koanf:"patterns-file"`
	Watch        bool   `koanf:"watch"`

	RedisAddr     string `koanf:"redis-addr"`
	RedisPassword string `koanf:"redis-password"`
	RedisDB       int    `koanf:"redis-db"`
	RedisPrefix   string `koanf:"redis-prefix"`

	Threshold   int `koanf:"threshold"`
	ReportCache int `koanf:"report-cache"`

	Verbosity  string `koanf:"verbosity"`
	VerboseCnt int    `koanf:"verbose"`
	LogJSON    bool   `koanf:"log-json"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"format":         FormatText,
		"web":            false,
		"mcp":            false,
		"port":           8080,
		"open":           false,
		"figma-base-url": "https://api.figma.com",
		"figma-timeout":  "30s",
		"frame-cache":    32,
		"rules-store":    StoreFile,
		"rules-file":     "rules.json",
		"patterns-file":  "patterns.json",
		"watch":          false,
		"redis-addr":     "localhost:6379",
		"redis-db":       0,
		"redis-prefix":   "ds-audit:",
		"threshold":      80,
		"report-cache":   64,
		"verbosity":      "",
		"verbose":        0,
		"log-json":       false,
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults. A .env file in the working
// directory is loaded into the environment first.
func Load(f *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file (optional)
	path := DefaultFile
	explicit := false
	if f != nil {
		if fl := f.Lookup("config"); fl != nil && fl.Value.String() != "" {
			path, explicit = fl.Value.String(), true
		}
	}
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// 3. Environment variables. FIGMA_TOKEN is honoured for convenience;
	// DS_AUDIT_FIGMA_TOKEN wins when both are set.
	if err := k.Load(env.Provider("FIGMA_TOKEN", ".", func(string) string {
		return "figma-token"
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}
	// DS_AUDIT_RULES_STORE=redis -> rules-store
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, envPrefix)), "_", "-")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	switch c.RulesStore {
	case StoreMemory, StoreFile, StoreRedis:
	default:
		return fmt.Errorf("unknown rules store %q (want memory, file or redis)", c.RulesStore)
	}
	switch c.Format {
	case FormatText, FormatJSON, FormatCSV:
	default:
		return fmt.Errorf("unknown format %q (want text, json or csv)", c.Format)
	}
	if c.Threshold < 0 || c.Threshold > 100 {
		return fmt.Errorf("threshold %d outside 0-100", c.Threshold)
	}
	if c.WebMode && c.MCPMode {
		return errors.New("--web and --mcp are mutually exclusive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
