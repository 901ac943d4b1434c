// Package config defines environment-specific settings for the Receipt Servicio.
package config

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Build variables, injected at compile time
var (
	BuildEnvironment = "local"
	BuildDate        = "unknown"
	BuildTime        = "unknown"
	// ServiceName is used for logging and as part of the log file path.
	ServiceName = "ReceiptServicio"
	// PasswordHashB64 is a base64-encoded bcrypt hash injected via ldflags.
	// If empty, admin authentication is disabled (dev mode).
	PasswordHashB64 = ""
	// AuthToken is injected via ldflags.
	// If empty, print job submissions are accepted without token validation.
	AuthToken = ""
	// ServerPort is the default port for the service, can be overridden by environment config.
	ServerPort = "8766"
	// AllowedOrigins is a comma-separated list of allowed origins injected via ldflags.
	// Example: "https://pos.example.com,http://localhost:*"
	AllowedOrigins = ""
)

// Queue backends.
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendHTTP   = "http"
)

// EnvPrefix is the prefix of environment variable overrides (RECEIPT_POLLER_INTERVAL).
const EnvPrefix = "RECEIPT"

// FileName is the optional override file, without extension.
const FileName = "receipt-daemon"

// Printer selects the target printer and its paper.
type Printer struct {
	Default      string
	Candidates   []string
	Paper        string
	NativeBitmap bool
}

// Delivery configures the fallback chain.
type Delivery struct {
	Methods        []string
	Timeout        time.Duration
	SpoolerCommand []string
	PortPath       string
	RawAddresses   map[string]string
}

// Poller configures the job poller.
type Poller struct {
	Enabled  bool
	Interval time.Duration
	Workers  int
}

// Queue selects where jobs are read from.
type Queue struct {
	Backend string
	Driver  string
	DSN     string
	URL     string
	APIKey  string
}

// Environment holds environment-specific settings
type Environment struct {
	// Identificación
	Name        string
	ServiceName string

	// Red
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Cola
	QueueCapacity int
	Queue         Queue

	// Logging
	Verbose bool

	// Impresora
	Printer  Printer
	Delivery Delivery
	Poller   Poller

	// Security
	AllowedOrigins []string

	// ConfigFile is the override file that was applied, if any.
	ConfigFile string
}

// LogPath returns the full log file path for this environment.
// Uses the convention: <programData>/<ServiceName>/<ServiceName>.log
func (e Environment) LogPath(programData string) string {
	return filepath.Join(programData, e.ServiceName, e.ServiceName+".log")
}

// Validate checks values that cannot be defaulted.
func (e Environment) Validate() error {
	if e.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if e.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got %d", e.QueueCapacity)
	}
	if e.Printer.Paper != "58" && e.Printer.Paper != "80" {
		return fmt.Errorf("invalid printer.paper %q (use 58 or 80)", e.Printer.Paper)
	}
	if len(e.Delivery.Methods) == 0 {
		return errors.New("delivery.methods must name at least one method")
	}
	if e.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be positive, got %v", e.Poller.Interval)
	}
	switch e.Queue.Backend {
	case BackendMemory:
	case BackendSQL:
		if e.Queue.DSN == "" {
			return errors.New("queue.dsn is required for the sql backend")
		}
	case BackendHTTP:
		if e.Queue.URL == "" {
			return errors.New("queue.url is required for the http backend")
		}
	default:
		return fmt.Errorf("unknown queue.backend %q (use memory, sql or http)", e.Queue.Backend)
	}
	return nil
}

func base(name, listen string, verbose bool, origins []string, printer string) Environment {
	return Environment{
		Name:          name,
		ServiceName:   ServiceName,
		ListenAddr:    listen,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		QueueCapacity: 50,
		Queue:         Queue{Backend: BackendMemory, Driver: "sqlite"},
		Verbose:       verbose,
		Printer:       Printer{Default: printer, Paper: "80", NativeBitmap: true},
		Delivery: Delivery{
			Methods: []string{"spooler", "port", "raw"},
			Timeout: 10 * time.Second,
		},
		Poller:         Poller{Enabled: true, Interval: 2 * time.Second, Workers: 1},
		AllowedOrigins: origins,
	}
}

// environments defines available deployment configurations
var environments = map[string]Environment{
	// By default, restrict to localhost and file (Electron) for security
	"remote": base("REMOTO", "0.0.0.0:"+ServerPort, false,
		[]string{"http://localhost:*", "https://localhost:*", "file://*"}, ""),
	// Allow all in local dev mode for convenience, but can be overridden
	"local": func() Environment {
		e := base("LOCAL", "localhost:"+ServerPort, true, []string{"*"}, "58mm PT-210")
		e.ReadTimeout, e.WriteTimeout, e.IdleTimeout = 30*time.Second, 30*time.Second, 120*time.Second
		e.Printer.Paper = "58"
		return e
	}(),
}

// GetEnvironment returns config for the specified environment.
func GetEnvironment(env string) Environment {
	cfg, ok := environments[env]
	if !ok {
		log.Printf("[!] Unknown environment '%s', defaulting to 'local'", env)
		cfg = environments["local"]
	}

	// Override allowed origins from ldflags if provided
	if AllowedOrigins != "" {
		cfg.AllowedOrigins = strings.Split(AllowedOrigins, ",")
	}

	return cfg
}

// SearchPaths returns the directories searched for the override file.
func SearchPaths(programData string) []string {
	paths := []string{"."}
	if programData != "" {
		paths = append(paths, filepath.Join(programData, ServiceName))
	}
	return append(paths, "/etc/receipt-daemon")
}

// Load returns the build environment overlaid with the optional
// receipt-daemon.yaml found in paths and RECEIPT_* environment variables.
//
// Priority (highest to lowest):
// 1. Environment variables with RECEIPT_ prefix (e.g., RECEIPT_QUEUE_DSN)
// 2. receipt-daemon.yaml
// 3. Build environment
func Load(env string, paths ...string) (Environment, error) {
	cfg := GetEnvironment(env)

	v := viper.New()
	setDefaults(v, cfg)

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if len(paths) > 0 {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return cfg, fmt.Errorf("error reading config file: %w", err)
			}
			// Config file not found is OK, we'll use defaults and env vars
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg.ConfigFile = v.ConfigFileUsed()
	cfg.ListenAddr = v.GetString("listen_addr")
	cfg.Verbose = v.GetBool("verbose")
	cfg.QueueCapacity = v.GetInt("queue_capacity")
	cfg.AllowedOrigins = stringList(v, "allowed_origins")
	cfg.Printer = Printer{
		Default:      v.GetString("printer.default"),
		Candidates:   stringList(v, "printer.candidates"),
		Paper:        strings.TrimSuffix(v.GetString("printer.paper"), "mm"),
		NativeBitmap: v.GetBool("printer.native_bitmap"),
	}
	cfg.Delivery = Delivery{
		Methods:        stringList(v, "delivery.methods"),
		Timeout:        v.GetDuration("delivery.timeout"),
		SpoolerCommand: v.GetStringSlice("delivery.spooler_command"),
		PortPath:       v.GetString("delivery.port_path"),
		RawAddresses:   v.GetStringMapString("delivery.raw_addresses"),
	}
	cfg.Poller = Poller{
		Enabled:  v.GetBool("poller.enabled"),
		Interval: v.GetDuration("poller.interval"),
		Workers:  v.GetInt("poller.workers"),
	}
	cfg.Queue = Queue{
		Backend: strings.ToLower(v.GetString("queue.backend")),
		Driver:  v.GetString("queue.driver"),
		DSN:     v.GetString("queue.dsn"),
		URL:     v.GetString("queue.url"),
		APIKey:  v.GetString("queue.api_key"),
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Environment) {
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("queue_capacity", cfg.QueueCapacity)
	v.SetDefault("allowed_origins", cfg.AllowedOrigins)
	v.SetDefault("printer.default", cfg.Printer.Default)
	v.SetDefault("printer.candidates", cfg.Printer.Candidates)
	v.SetDefault("printer.paper", cfg.Printer.Paper)
	v.SetDefault("printer.native_bitmap", cfg.Printer.NativeBitmap)
	v.SetDefault("delivery.methods", cfg.Delivery.Methods)
	v.SetDefault("delivery.timeout", cfg.Delivery.Timeout)
	v.SetDefault("delivery.spooler_command", cfg.Delivery.SpoolerCommand)
	v.SetDefault("delivery.port_path", cfg.Delivery.PortPath)
	v.SetDefault("delivery.raw_addresses", map[string]string{})
	v.SetDefault("poller.enabled", cfg.Poller.Enabled)
	v.SetDefault("poller.interval", cfg.Poller.Interval)
	v.SetDefault("poller.workers", cfg.Poller.Workers)
	v.SetDefault("queue.backend", cfg.Queue.Backend)
	v.SetDefault("queue.driver", cfg.Queue.Driver)
	v.SetDefault("queue.dsn", cfg.Queue.DSN)
	v.SetDefault("queue.url", cfg.Queue.URL)
	v.SetDefault("queue.api_key", cfg.Queue.APIKey)
}

// stringList accepts both YAML lists and comma-separated env values.
func stringList(v *viper.Viper, key string) []string {
	var out []string
	for _, s := range v.GetStringSlice(key) {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
