package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the uURU server.
// Precedence: CLI flags > env vars > config file > defaults.
type Config struct {
	ConfigFile   string
	DataDir      string
	HTTPPort     int
	LogLevel     string
	LogFormat    string
	JWTSecret    string        // hex-encoded 32-byte secret for API token signing
	TokenTTL     time.Duration // lifetime of issued access tokens
	RootUser     string        // admin account created on first start
	RootPassword string
	CORSOrigins  []string      // origins allowed to call the API from a browser

	WebHost      string // host:port this service is reachable at, used in URLs handed to Asterisk and phones
	AsteriskHost string
	PBXDriver    string // database/sql driver for the Asterisk realtime database: "pgx" or "sqlite"
	PBXDSN       string

	ExtensionDigits         int
	ExtensionPasswordLength int
	ExtensionTokenPrefix    string
	ExtensionTokenLength    int
	AllExtensionTypesPublic bool
	EnabledPhoneFlavors     []string
	ReservedExtensions      []Reservation
	ReservedNamePrefixes    []string
	Codecs                  map[string]string // phone type -> codec override

	EnableWebSIP         bool
	WebSIPPublic         bool
	WebSIPWSHost         string
	WebSIPExtensionRange Reservation
	WebSIPSessionTTL     time.Duration

	OMMHost       string
	OMMPort       int
	OMMUser       string
	OMMPassword   string
	OMMVerifyCert bool

	FederationUURUHost string // host:port partners use to reach this instance's API
	FederationIAXHost  string // host partners configure as IAX2 peer
}

// Reservation is an inclusive extension range. A single reserved
// extension has Low == High.
type Reservation struct {
	Low  int
	High int
}

// Contains reports whether n is inside the range.
func (r Reservation) Contains(n int) bool { return n >= r.Low && n <= r.High }

func (r Reservation) String() string {
	if r.Low == r.High {
		return strconv.Itoa(r.Low)
	}
	return fmt.Sprintf("%d-%d", r.Low, r.High)
}

// defaults
const (
	defaultDataDir          = "./data"
	defaultHTTPPort         = 8000
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
	defaultTokenTTL         = 8 * 24 * time.Hour
	defaultRootUser         = "root"
	defaultWebHost          = "127.0.0.1:8000"
	defaultAsteriskHost     = "127.0.0.1"
	defaultPBXDriver        = "pgx"
	defaultExtensionDigits  = 4
	defaultPasswordLength   = 20
	defaultTokenPrefix      = "01990"
	defaultTokenLength      = 8
	defaultEnabledFlavor    = "sip"
	defaultWebSIPWSHost     = "ws://127.0.0.1:8088/ws"
	defaultWebSIPRangeLow   = 9900
	defaultWebSIPRangeHigh  = 9999
	defaultWebSIPSessionTTL = 12 * time.Hour
	defaultOMMPort          = 12622
	defaultOMMUser          = "omm"
)

// envPrefix is the prefix for all uURU environment variables.
const envPrefix = "UURU_"

// Load parses configuration from CLI flags, environment variables and the
// optional YAML file named by -config.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{
		EnabledPhoneFlavors:  []string{defaultEnabledFlavor},
		WebSIPExtensionRange: Reservation{Low: defaultWebSIPRangeLow, High: defaultWebSIPRangeHigh},
	}

	fs := flag.NewFlagSet("uuru", flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigFile, "config", "", "path to a YAML config file")
	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the primary database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for API token signing (auto-generated if empty)")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", defaultTokenTTL, "lifetime of issued access tokens")
	fs.StringVar(&cfg.RootUser, "root-user", defaultRootUser, "admin user created when no users exist")
	fs.StringVar(&cfg.RootPassword, "root-password", "", "password for the bootstrap admin user")
	fs.Var((*stringList)(&cfg.CORSOrigins), "cors-origins", "comma-separated origins allowed to call the API from a browser")

	fs.StringVar(&cfg.WebHost, "web-host", defaultWebHost, "host:port this service is reachable at")
	fs.StringVar(&cfg.AsteriskHost, "asterisk-host", defaultAsteriskHost, "hostname of the Asterisk server")
	fs.StringVar(&cfg.PBXDriver, "pbx-driver", defaultPBXDriver, "driver for the Asterisk realtime database (pgx, sqlite)")
	fs.StringVar(&cfg.PBXDSN, "pbx-dsn", "", "DSN of the Asterisk realtime database")

	fs.IntVar(&cfg.ExtensionDigits, "extension-digits", defaultExtensionDigits, "number of digits of an extension")
	fs.IntVar(&cfg.ExtensionPasswordLength, "extension-password-length", defaultPasswordLength, "length of generated SIP passwords")
	fs.StringVar(&cfg.ExtensionTokenPrefix, "extension-token-prefix", defaultTokenPrefix, "prefix of generated extension tokens")
	fs.IntVar(&cfg.ExtensionTokenLength, "extension-token-length", defaultTokenLength, "number of random digits in extension tokens")
	fs.BoolVar(&cfg.AllExtensionTypesPublic, "all-extension-types-public", false, "allow non-admin users to create special extension types")
	fs.Var((*stringList)(&cfg.EnabledPhoneFlavors), "enabled-phone-flavors", "comma-separated list of enabled phone flavors")
	fs.Var((*reservationList)(&cfg.ReservedExtensions), "reserved-extensions", "comma-separated reserved extensions or ranges (e.g. 110,9900-9999)")
	fs.Var((*stringList)(&cfg.ReservedNamePrefixes), "reserved-name-prefixes", "comma-separated name prefixes only admins may use")
	fs.Var((*codecMap)(&cfg.Codecs), "codecs", "comma-separated phone type codec overrides (e.g. DECT=alaw)")

	fs.BoolVar(&cfg.EnableWebSIP, "enable-websip", true, "enable browser phones")
	fs.BoolVar(&cfg.WebSIPPublic, "websip-public", true, "allow anonymous browser phones")
	fs.StringVar(&cfg.WebSIPWSHost, "websip-ws-host", defaultWebSIPWSHost, "websocket URL of the Asterisk HTTP server")
	fs.Var((*rangeValue)(&cfg.WebSIPExtensionRange), "websip-extension-range", "extension range for browser phones (e.g. 9900-9999)")
	fs.DurationVar(&cfg.WebSIPSessionTTL, "websip-session-ttl", defaultWebSIPSessionTTL, "age after which browser phones are removed")

	fs.StringVar(&cfg.OMMHost, "omm-host", "", "hostname of the Mitel OMM (DECT disabled if empty)")
	fs.IntVar(&cfg.OMMPort, "omm-port", defaultOMMPort, "OMM AXI port")
	fs.StringVar(&cfg.OMMUser, "omm-user", defaultOMMUser, "OMM user")
	fs.StringVar(&cfg.OMMPassword, "omm-password", "", "OMM password")
	fs.BoolVar(&cfg.OMMVerifyCert, "omm-verify-cert", true, "verify the OMM TLS certificate")

	fs.StringVar(&cfg.FederationUURUHost, "federation-uuru-host", "", "host:port partners use to reach this instance")
	fs.StringVar(&cfg.FederationIAXHost, "federation-iax-host", "", "host partners use as IAX2 peer address")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	if cfg.ConfigFile == "" {
		cfg.ConfigFile = os.Getenv(envPrefix + "CONFIG")
	}
	if cfg.ConfigFile != "" {
		if err := applyFile(fs, set, cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	if err := applyEnvOverrides(fs, set); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envName maps a flag name to its environment variable.
func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides sets every flag not given on the command line from
// its UURU_ environment variable, e.g. web-host from UURU_WEB_HOST.
func applyEnvOverrides(fs *flag.FlagSet, set map[string]bool) error {
	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || set[f.Name] || f.Name == "config" {
			return
		}
		val, ok := os.LookupEnv(envName(f.Name))
		if !ok || val == "" {
			return
		}
		if serr := fs.Set(f.Name, val); serr != nil {
			err = fmt.Errorf("env %s: %w", envName(f.Name), serr)
		}
	})
	return err
}

// applyFile reads a YAML document whose keys are flag names. Lists may be
// written as YAML sequences; reserved ranges as two element sequences.
func applyFile(fs *flag.FlagSet, set map[string]bool, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		name := strings.ReplaceAll(strings.ToLower(key), "_", "-")
		if fs.Lookup(name) == nil || name == "config" {
			return fmt.Errorf("config file: unknown key %q", key)
		}
		if set[name] {
			continue
		}
		node := doc[key]
		val, err := nodeString(&node)
		if err != nil {
			return fmt.Errorf("config file key %q: %w", key, err)
		}
		if err := fs.Set(name, val); err != nil {
			return fmt.Errorf("config file key %q: %w", key, err)
		}
	}
	return nil
}

// nodeString flattens a YAML node into the flag string syntax.
func nodeString(n *yaml.Node) (string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value, nil
	case yaml.SequenceNode:
		parts := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			switch c.Kind {
			case yaml.ScalarNode:
				parts = append(parts, c.Value)
			case yaml.SequenceNode:
				if len(c.Content) != 2 {
					return "", fmt.Errorf("range must have two elements, line %d", c.Line)
				}
				parts = append(parts, c.Content[0].Value+"-"+c.Content[1].Value)
			default:
				return "", fmt.Errorf("unsupported list element, line %d", c.Line)
			}
		}
		return strings.Join(parts, ","), nil
	case yaml.MappingNode:
		parts := make([]string, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			parts = append(parts, n.Content[i].Value+"="+n.Content[i+1].Value)
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported value, line %d", n.Line)
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.OMMPort < 1 || c.OMMPort > 65535 {
		return fmt.Errorf("omm-port must be between 1 and 65535, got %d", c.OMMPort)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.PBXDriver != "pgx" && c.PBXDriver != "sqlite" {
		return fmt.Errorf("pbx-driver must be one of pgx, sqlite; got %q", c.PBXDriver)
	}
	if c.ExtensionDigits < 1 || c.ExtensionDigits > 16 {
		return fmt.Errorf("extension-digits must be between 1 and 16, got %d", c.ExtensionDigits)
	}
	if c.ExtensionPasswordLength < 8 {
		return fmt.Errorf("extension-password-length must be at least 8, got %d", c.ExtensionPasswordLength)
	}
	if c.ExtensionTokenLength < 1 {
		return fmt.Errorf("extension-token-length must be positive, got %d", c.ExtensionTokenLength)
	}
	if r := c.WebSIPExtensionRange; r.Low > r.High {
		return fmt.Errorf("websip-extension-range is empty: %s", r)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token-ttl must be positive, got %s", c.TokenTTL)
	}
	for i, f := range c.EnabledPhoneFlavors {
		c.EnabledPhoneFlavors[i] = strings.ToLower(f)
	}
	return nil
}

// ExtensionReserved reports whether ext falls into a reserved range.
func (c *Config) ExtensionReserved(ext int) bool {
	for _, r := range c.ReservedExtensions {
		if r.Contains(ext) {
			return true
		}
	}
	return false
}

// NameReserved reports whether name starts with a reserved prefix.
func (c *Config) NameReserved(name string) bool {
	for _, p := range c.ReservedNamePrefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// FlavorEnabled reports whether the flavor with the given lowercase name
// is enabled.
func (c *Config) FlavorEnabled(name string) bool {
	for _, f := range c.EnabledPhoneFlavors {
		if f == strings.ToLower(name) {
			return true
		}
	}
	return false
}

// MediaBaseURL returns the URL prefix Asterisk fetches extension media from.
func (c *Config) MediaBaseURL() string {
	return "http://" + c.WebHost + "/api/v1"
}

// JWTSecretBytes returns the decoded 32-byte JWT signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
