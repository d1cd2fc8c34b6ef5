package sharepoint

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tonimelisma/sharepoint-go/internal/auth"
	"github.com/tonimelisma/sharepoint-go/internal/sperr"
)

// Config is the top-level configuration parsed from a TOML file. Values
// left unset keep their defaults; credentials are commonly supplied
// through the environment instead of the file (see ApplyEnv).
type Config struct {
	Site    SiteConfig    `toml:"site"`
	Auth    AuthConfig    `toml:"auth"`
	Storage StorageConfig `toml:"storage"`
	Network NetworkConfig `toml:"network"`
	Logging LoggingConfig `toml:"logging"`
}

// SiteConfig locates the document library: the tenant's short name, the
// site, and an optional folder prefix all file names resolve under.
type SiteConfig struct {
	Tenant   string `toml:"tenant"`    // short name, {tenant}.sharepoint.com
	TenantID string `toml:"tenant_id"` // directory GUID; {tenant}.onmicrosoft.com when empty
	SiteName string `toml:"site_name"`
	RootDir  string `toml:"root_dir"`
}

// AuthConfig carries one set of credentials. A complete
// client_id/client_secret pair selects the application flow; otherwise a
// complete username/password pair selects the delegated flow.
type AuthConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
}

// StorageConfig controls transfer buffering behavior.
type StorageConfig struct {
	// BlobMaxMemorySize is the largest content held fully in memory
	// during a transfer. Anything larger spills to a temporary file.
	BlobMaxMemorySize string `toml:"blob_max_memory_size"`
}

// NetworkConfig controls HTTP client behavior: timeouts, user agent, and
// protocol version. force_http_11 is useful behind corporate proxies that
// don't support HTTP/2.
type NetworkConfig struct {
	ConnectTimeout    string  `toml:"connect_timeout"`
	DataTimeout       string  `toml:"data_timeout"`
	UserAgent         string  `toml:"user_agent"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	ForceHTTP11       bool    `toml:"force_http_11"`
}

// LoggingConfig controls log output behavior: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Default values for configuration options. Chosen to be safe starting
// points that work without any config file beyond the site section.
const (
	defaultBlobMaxMemorySize = "16MiB"
	defaultConnectTimeout    = "10s"
	defaultDataTimeout       = "60s"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
)

// Validation range constants.
const (
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 5 * time.Second
)

// DefaultConfig returns a Config populated with all default values. This
// is the starting point for TOML decoding, so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			BlobMaxMemorySize: defaultBlobMaxMemorySize,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}

// Load reads and parses a TOML config file. Unknown keys are fatal
// errors with "did you mean?" suggestions — silently ignoring a typo in
// a config file leads to hard-to-debug behavior. Load does not check
// completeness; credentials may still arrive via ApplyEnv, so semantic
// validation happens in Validate once all layers are applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing config file %s: %v", sperr.ErrConfig, path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, fmt.Errorf("%w: %v", sperr.ErrConfig, err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. This supports running with
// nothing but environment variables.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Environment variable names. Env values override the config file, and
// are themselves overridden by CLI flags.
const (
	EnvConfig       = "SHAREPOINT_GO_CONFIG"
	EnvTenant       = "SHAREPOINT_GO_TENANT"
	EnvTenantID     = "SHAREPOINT_GO_TENANT_ID"
	EnvSiteName     = "SHAREPOINT_GO_SITE_NAME"
	EnvRootDir      = "SHAREPOINT_GO_ROOT_DIR"
	EnvClientID     = "SHAREPOINT_GO_CLIENT_ID"
	EnvClientSecret = "SHAREPOINT_GO_CLIENT_SECRET"
	EnvUsername     = "SHAREPOINT_GO_USERNAME"
	EnvPassword     = "SHAREPOINT_GO_PASSWORD"
)

// ApplyEnv overlays environment variables onto cfg. Only set, non-empty
// variables override; everything else is left alone. Credentials in the
// environment keep secrets out of config files.
func ApplyEnv(cfg *Config) {
	overlays := []struct {
		env string
		dst *string
	}{
		{EnvTenant, &cfg.Site.Tenant},
		{EnvTenantID, &cfg.Site.TenantID},
		{EnvSiteName, &cfg.Site.SiteName},
		{EnvRootDir, &cfg.Site.RootDir},
		{EnvClientID, &cfg.Auth.ClientID},
		{EnvClientSecret, &cfg.Auth.ClientSecret},
		{EnvUsername, &cfg.Auth.Username},
		{EnvPassword, &cfg.Auth.Password},
	}

	for _, o := range overlays {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// Validate checks all configuration values and returns all errors found,
// each wrapping ErrConfig. It accumulates every error rather than
// stopping at the first, so users can fix all issues in one pass. Call
// it after the final override layer is applied.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Site.Tenant == "" {
		errs = append(errs, fmt.Errorf("%w: site.tenant must be set", sperr.ErrConfig))
	} else if strings.ContainsAny(cfg.Site.Tenant, "./:") {
		errs = append(errs, fmt.Errorf(
			"%w: site.tenant is the short tenant name, not a URL: %q", sperr.ErrConfig, cfg.Site.Tenant))
	}

	if cfg.Site.SiteName == "" {
		errs = append(errs, fmt.Errorf("%w: site.site_name must be set", sperr.ErrConfig))
	}

	for _, seg := range strings.Split(cfg.Site.RootDir, "/") {
		if seg == ".." {
			errs = append(errs, fmt.Errorf("%w: site.root_dir must not contain \"..\"", sperr.ErrConfig))

			break
		}
	}

	if _, err := auth.PickFlow(cfg.Auth.ClientID, cfg.Auth.ClientSecret, cfg.Auth.Username, cfg.Auth.Password); err != nil {
		errs = append(errs, err)
	}

	if _, err := ParseSize(cfg.Storage.BlobMaxMemorySize); err != nil {
		errs = append(errs, fmt.Errorf("%w: storage.blob_max_memory_size: %v", sperr.ErrConfig, err))
	}

	errs = append(errs, validateDurationMin("network.connect_timeout", cfg.Network.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("network.data_timeout", cfg.Network.DataTimeout, minDataTimeout)...)

	if cfg.Network.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf(
			"%w: network.requests_per_second must be non-negative, got %v",
			sperr.ErrConfig, cfg.Network.RequestsPerSecond))
	}

	switch cfg.Logging.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf(
			"%w: logging.log_level must be debug, info, warn, or error, got %q",
			sperr.ErrConfig, cfg.Logging.LogLevel))
	}

	switch cfg.Logging.LogFormat {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf(
			"%w: logging.log_format must be auto, text, or json, got %q",
			sperr.ErrConfig, cfg.Logging.LogFormat))
	}

	return errors.Join(errs...)
}

// validateDurationMin parses a duration config value and enforces a
// lower bound.
func validateDurationMin(key, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%w: %s: invalid duration %q", sperr.ErrConfig, key, value)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%w: %s: must be at least %s, got %s", sperr.ErrConfig, key, minimum, d)}
	}

	return nil
}

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys are the valid dotted keys in the config file.
var knownKeys = map[string]bool{
	// Site settings
	"site.tenant": true, "site.tenant_id": true, "site.site_name": true, "site.root_dir": true,
	// Auth settings
	"auth.client_id": true, "auth.client_secret": true, "auth.username": true, "auth.password": true,
	// Storage settings
	"storage.blob_max_memory_size": true,
	// Network settings
	"network.connect_timeout": true, "network.data_timeout": true, "network.user_agent": true,
	"network.requests_per_second": true, "network.force_http_11": true,
	// Logging settings
	"logging.log_level": true, "logging.log_format": true,
}

// knownKeysList is the sorted slice form of knownKeys for Levenshtein
// matching. Sorted for deterministic suggestions when two candidates
// have the same edit distance.
var knownKeysList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		keyStr := key.String()

		suggestion := closestMatch(keyStr, knownKeysList)
		if suggestion != "" {
			errs = append(errs, fmt.Errorf("unknown config key %q — did you mean %q?", keyStr, suggestion))
		} else {
			errs = append(errs, fmt.Errorf("unknown config key %q", keyStr))
		}
	}

	return errors.Join(errs...)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
