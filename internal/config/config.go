// Package config loads the relay configuration from environment variables
// and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrInvalid = errors.New("config: invalid configuration")

// Keys double as flag names
const (
	KeySourceURL         = "source-url"
	KeySourceChannel     = "source-channel"
	KeySourceQueue       = "source-queue"
	KeySourceExclusive   = "source-exclusive"
	KeyDestinationURL    = "destination-url"
	KeyDestinationQueue  = "destination-queue"
	KeyCacheURL          = "cache-url"
	KeyCacheTTL          = "cache-ttl"
	KeyFileArchive       = "file-archive"
	KeyFileArchivePath   = "file-archive-path"
	KeyRetry             = "retry"
	KeyRetryDelay        = "retry-delay"
	KeyRetryMaxAttempts  = "retry-max-attempts"
	KeyRetryBackoff      = "retry-backoff"
	KeyPrefetch          = "prefetch"
	KeyOrdered           = "ordered"
	KeyConfirmTimeout    = "confirm-timeout"
	KeyVerboseReturnBody = "verbose-return-body"
	KeyLogLevel          = "log-level"
	KeyLogFormat         = "log-format"
	KeyMetricsAddr       = "metrics-addr"
)

var envNames = map[string]string{
	KeySourceURL:         "SOURCE_URL",
	KeySourceChannel:     "SOURCE_CHANNEL",
	KeySourceQueue:       "SOURCE_QUEUE",
	KeySourceExclusive:   "SOURCE_EXCLUSIVE",
	KeyDestinationURL:    "DESTINATION_URL",
	KeyDestinationQueue:  "DESTINATION_QUEUE",
	KeyCacheURL:          "CACHE_URL",
	KeyCacheTTL:          "CACHE_TTL",
	KeyFileArchive:       "FILE_ARCHIVE_ENABLED",
	KeyFileArchivePath:   "FILE_ARCHIVE_PATH",
	KeyRetry:             "RETRY_ON_CONNECT_FAILURE",
	KeyRetryDelay:        "RETRY_DELAY",
	KeyRetryMaxAttempts:  "RETRY_MAX_ATTEMPTS",
	KeyRetryBackoff:      "RETRY_BACKOFF",
	KeyPrefetch:          "PREFETCH_COUNT",
	KeyOrdered:           "ORDERED",
	KeyConfirmTimeout:    "PUBLISH_CONFIRM_TIMEOUT",
	KeyVerboseReturnBody: "VERBOSE_RETURN_BODY",
	KeyLogLevel:          "LOG_LEVEL",
	KeyLogFormat:         "LOG_FORMAT",
	KeyMetricsAddr:       "METRICS_ADDR",
}

// Config holds every relay setting
type Config struct {
	SourceURL       string
	SourceChannel   uint16
	SourceQueue     string
	SourceExclusive bool

	DestinationURL   string
	DestinationQueue string

	CacheURL        string
	CacheTTL        time.Duration
	FileArchive     bool
	FileArchivePath string

	Retry            bool
	RetryDelay       time.Duration
	RetryMaxAttempts int
	RetryBackoff     bool

	Prefetch          int
	Ordered           bool
	ConfirmTimeout    time.Duration
	VerboseReturnBody bool

	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		SourceExclusive: true,
		FileArchive:     true,
		FileArchivePath: "./messages",
		Retry:           true,
		RetryDelay:      2 * time.Second,
		Prefetch:        10,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// RegisterFlags adds one flag per setting to fs
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	RegisterSourceFlags(fs)
	fs.Uint16(KeySourceChannel, d.SourceChannel, "pin the source channel number, 0 picks the first free channel")
	fs.Bool(KeySourceExclusive, d.SourceExclusive, "consume the source queue exclusively")
	fs.String(KeyDestinationURL, d.DestinationURL, "AMQP URL of the broker to publish to")
	fs.String(KeyDestinationQueue, d.DestinationQueue, "publish every message straight to this queue")
	RegisterArchiveFlags(fs)
	fs.Bool(KeyRetry, d.Retry, "retry when connecting fails")
	fs.Duration(KeyRetryDelay, d.RetryDelay, "delay between connection attempts")
	fs.Int(KeyRetryMaxAttempts, d.RetryMaxAttempts, "maximum connection retries, 0 retries forever")
	fs.Bool(KeyRetryBackoff, d.RetryBackoff, "double the retry delay after every attempt, up to 1m")
	fs.Int(KeyPrefetch, d.Prefetch, "unacknowledged messages delivered ahead")
	fs.Bool(KeyOrdered, d.Ordered, "relay one message at a time to preserve order")
	fs.Duration(KeyConfirmTimeout, d.ConfirmTimeout, "limit on waiting for a publish confirm, 0 waits forever")
	fs.Bool(KeyVerboseReturnBody, d.VerboseReturnBody, "include message bodies when logging returns")
	fs.String(KeyLogLevel, d.LogLevel, "debug, info, warn or error")
	fs.String(KeyLogFormat, d.LogFormat, "text or json")
	fs.String(KeyMetricsAddr, d.MetricsAddr, "address serving /metrics and /healthz, empty disables")
}

// RegisterSourceFlags adds the source broker and queue flags to fs
func RegisterSourceFlags(fs *pflag.FlagSet) {
	fs.String(KeySourceURL, "", "AMQP URL of the broker to drain")
	fs.String(KeySourceQueue, "", "existing queue to consume from")
}

// RegisterArchiveFlags adds the archival flags to fs
func RegisterArchiveFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(KeyCacheURL, d.CacheURL, "redis:// URL enabling cache archival")
	fs.Duration(KeyCacheTTL, d.CacheTTL, "expiry of cached records, 0 keeps them")
	fs.Bool(KeyFileArchive, d.FileArchive, "archive every message as a JSON file")
	fs.String(KeyFileArchivePath, d.FileArchivePath, "directory of archived message files")
}

// Load resolves and validates the configuration. Changed flags win over
// environment variables, which win over defaults. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg, err := Resolve(fs)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve reads the configuration like Load without validating it. Tools
// needing a subset of the settings validate what they use.
func Resolve(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	channel := v.GetInt(KeySourceChannel)
	if channel < 0 || channel > math.MaxUint16 {
		return nil, fmt.Errorf("%w: source channel %d out of range", ErrInvalid, channel)
	}

	cfg := &Config{
		SourceURL:         strings.TrimSpace(v.GetString(KeySourceURL)),
		SourceChannel:     uint16(channel),
		SourceQueue:       v.GetString(KeySourceQueue),
		SourceExclusive:   v.GetBool(KeySourceExclusive),
		DestinationURL:    strings.TrimSpace(v.GetString(KeyDestinationURL)),
		DestinationQueue:  v.GetString(KeyDestinationQueue),
		CacheURL:          strings.TrimSpace(v.GetString(KeyCacheURL)),
		CacheTTL:          v.GetDuration(KeyCacheTTL),
		FileArchive:       v.GetBool(KeyFileArchive),
		FileArchivePath:   v.GetString(KeyFileArchivePath),
		Retry:             v.GetBool(KeyRetry),
		RetryDelay:        v.GetDuration(KeyRetryDelay),
		RetryMaxAttempts:  v.GetInt(KeyRetryMaxAttempts),
		RetryBackoff:      v.GetBool(KeyRetryBackoff),
		Prefetch:          v.GetInt(KeyPrefetch),
		Ordered:           v.GetBool(KeyOrdered),
		ConfirmTimeout:    v.GetDuration(KeyConfirmTimeout),
		VerboseReturnBody: v.GetBool(KeyVerboseReturnBody),
		LogLevel:          strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat:         strings.ToLower(v.GetString(KeyLogFormat)),
		MetricsAddr:       v.GetString(KeyMetricsAddr),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeySourceChannel, 0)
	v.SetDefault(KeySourceExclusive, d.SourceExclusive)
	v.SetDefault(KeyCacheTTL, d.CacheTTL)
	v.SetDefault(KeyFileArchive, d.FileArchive)
	v.SetDefault(KeyFileArchivePath, d.FileArchivePath)
	v.SetDefault(KeyRetry, d.Retry)
	v.SetDefault(KeyRetryDelay, d.RetryDelay)
	v.SetDefault(KeyRetryMaxAttempts, d.RetryMaxAttempts)
	v.SetDefault(KeyRetryBackoff, d.RetryBackoff)
	v.SetDefault(KeyPrefetch, d.Prefetch)
	v.SetDefault(KeyOrdered, d.Ordered)
	v.SetDefault(KeyConfirmTimeout, d.ConfirmTimeout)
	v.SetDefault(KeyVerboseReturnBody, d.VerboseReturnBody)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.SourceURL == "" {
		return fmt.Errorf("%w: SOURCE_URL is required", ErrInvalid)
	}
	if c.SourceQueue == "" {
		return fmt.Errorf("%w: SOURCE_QUEUE is required", ErrInvalid)
	}
	if c.DestinationURL == "" {
		return fmt.Errorf("%w: DESTINATION_URL is required", ErrInvalid)
	}
	if c.CacheURL != "" {
		u, err := url.Parse(c.CacheURL)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			return fmt.Errorf("%w: CACHE_URL must be a redis:// URL", ErrInvalid)
		}
	}
	if c.FileArchive && c.FileArchivePath == "" {
		return fmt.Errorf("%w: FILE_ARCHIVE_PATH is required when file archival is enabled", ErrInvalid)
	}
	if c.CacheTTL < 0 || c.RetryDelay < 0 || c.ConfirmTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalid)
	}
	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("%w: RETRY_MAX_ATTEMPTS must not be negative", ErrInvalid)
	}
	if c.Prefetch < 1 || c.Prefetch > math.MaxUint16 {
		return fmt.Errorf("%w: PREFETCH_COUNT %d out of range", ErrInvalid, c.Prefetch)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%w: LOG_FORMAT must be text or json", ErrInvalid)
	}
	return nil
}

// NewLogger builds the slog logger described by the log settings
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: unknown LOG_LEVEL %q", ErrInvalid, s)
	}
}
