package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config holds all runtime configuration for the voicebot server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir   string
	HTTPPort  int
	LogLevel  string
	LogFormat string // log output format: "text" or "json"

	PublicURL         string // externally reachable base URL, used for webhook signatures
	StreamURLOverride string // media stream socket URL; derived from PublicURL when empty
	Language          string // BCP-47 language for speech and recognition
	CORSOrigins       string
	StreamIdleTimeout time.Duration
	AckTone           bool // play a tone before each reply

	STTEngine       string // "transcribe" or "websocket"
	STTURL          string // websocket engine endpoint
	STTAPIKey       string
	STTVocabulary   string
	STTDrainTimeout time.Duration
	AWSRegion       string

	TranscriptBucket     string // S3 bucket for archived transcripts; disabled when empty
	DatabaseURL          string // optional Postgres DSN for a shared transcript store
	ArchiveRetentionDays int    // default retention of the local index; 0 keeps forever
	RecentCapacity       int

	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFrom         string // fixed sender for follow-up messages
	ValidateSignatures bool

	AdminSecret       string // hex-encoded 32-byte secret for admin token signing
	AdminUser         string
	AdminPasswordHash string // argon2id hash; password login is disabled when empty

	FallbackWindow time.Duration

	ReplyPolicy  string // "keyword" or "storeinfo"
	StoreName    string
	StoreAddress string
	StoreHours   string
	StoreClosed  string
	StorePhone   string
	HoursURL     string
	FAQURL       string

	CommitSHA string
}

// defaults
const (
	defaultDataDir           = "./data"
	defaultHTTPPort          = 8080
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
	defaultPublicURL         = "https://voice.frontglass.net"
	defaultLanguage          = "ja-JP"
	defaultStreamIdleTimeout = 30 * time.Second
	defaultSTTEngine         = STTEngineTranscribe
	defaultSTTDrainTimeout   = 5 * time.Second
	defaultAWSRegion         = "ap-northeast-1"
	defaultRecentCapacity    = 50
	defaultAdminUser         = "admin"
	defaultFallbackWindow    = 120 * time.Second
	defaultReplyPolicy       = ReplyPolicyKeyword

	defaultStoreName    = "フロントガラス修理ボット"
	defaultStoreAddress = "埼玉県上尾市菅谷3-4-1"
	defaultStoreHours   = "平日9:00〜18:00"
	defaultStoreClosed  = "日曜・祝日"
	defaultStorePhone   = "050-5454-5454"
	defaultHoursURL     = "https://example.com/hours"
	defaultFAQURL       = "https://example.com/faq"
)

// Speech recognition engines.
const (
	STTEngineTranscribe = "transcribe"
	STTEngineWebSocket  = "websocket"
)

// Reply policies.
const (
	ReplyPolicyKeyword   = "keyword"
	ReplyPolicyStoreInfo = "storeinfo"
)

// envPrefix is the prefix for all voicebot environment variables.
const envPrefix = "VOICEBOT_"

// Load parses configuration from the process arguments and environment.
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs parses configuration from args and environment variables.
// Precedence: CLI flags > env vars > defaults.
func LoadArgs(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("voicebot", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the local transcript index")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	fs.StringVar(&cfg.PublicURL, "public-url", defaultPublicURL, "externally reachable base URL of this server")
	fs.StringVar(&cfg.StreamURLOverride, "stream-url", "", "media stream socket URL (derived from public-url if empty)")
	fs.StringVar(&cfg.Language, "language", defaultLanguage, "language for spoken replies and recognition")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.BoolVar(&cfg.AckTone, "ack-tone", false, "play a short tone when an utterance is recognized, before the reply")
	fs.DurationVar(&cfg.StreamIdleTimeout, "stream-idle-timeout", defaultStreamIdleTimeout, "close a media stream after this long without a frame")

	fs.StringVar(&cfg.STTEngine, "stt-engine", defaultSTTEngine, "speech recognition engine (transcribe, websocket)")
	fs.StringVar(&cfg.STTURL, "stt-url", "", "websocket recognition endpoint (wss://...)")
	fs.StringVar(&cfg.STTAPIKey, "stt-api-key", "", "API key for the websocket recognition engine")
	fs.StringVar(&cfg.STTVocabulary, "stt-vocabulary", "", "custom vocabulary name")
	fs.DurationVar(&cfg.STTDrainTimeout, "stt-drain-timeout", defaultSTTDrainTimeout, "how long to wait for final transcripts after a call ends")
	fs.StringVar(&cfg.AWSRegion, "aws-region", defaultAWSRegion, "AWS region for transcription and archive storage")

	fs.StringVar(&cfg.TranscriptBucket, "transcript-bucket", "", "S3 bucket for archived transcripts (disabled if empty)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "Postgres DSN for a shared transcript store (disabled if empty)")
	fs.IntVar(&cfg.ArchiveRetentionDays, "archive-retention-days", 0, "days to keep transcripts in the local index (0 keeps forever)")
	fs.IntVar(&cfg.RecentCapacity, "recent-capacity", defaultRecentCapacity, "number of recent calls kept in memory")

	fs.StringVar(&cfg.TwilioAccountSID, "twilio-account-sid", "", "Twilio account SID")
	fs.StringVar(&cfg.TwilioAuthToken, "twilio-auth-token", "", "Twilio auth token")
	fs.StringVar(&cfg.TwilioFrom, "twilio-from", "", "fixed sender number for follow-up messages")
	fs.BoolVar(&cfg.ValidateSignatures, "validate-signatures", false, "verify X-Twilio-Signature on webhooks")

	fs.StringVar(&cfg.AdminSecret, "admin-secret", "", "hex-encoded 32-byte secret for admin token signing (auto-generated if empty)")
	fs.StringVar(&cfg.AdminUser, "admin-user", defaultAdminUser, "admin login name")
	fs.StringVar(&cfg.AdminPasswordHash, "admin-password-hash", "", "argon2id hash of the admin password (password login disabled if empty)")

	fs.DurationVar(&cfg.FallbackWindow, "fallback-window", defaultFallbackWindow, "how long a transport failure keeps the degraded greeting active")

	fs.StringVar(&cfg.ReplyPolicy, "reply-policy", defaultReplyPolicy, "reply policy (keyword, storeinfo)")
	fs.StringVar(&cfg.StoreName, "store-name", defaultStoreName, "store name used in greetings")
	fs.StringVar(&cfg.StoreAddress, "store-address", defaultStoreAddress, "store address for access replies and map links")
	fs.StringVar(&cfg.StoreHours, "store-hours", defaultStoreHours, "opening hours text")
	fs.StringVar(&cfg.StoreClosed, "store-closed", defaultStoreClosed, "closed days text")
	fs.StringVar(&cfg.StorePhone, "store-phone", defaultStorePhone, "store phone number")
	fs.StringVar(&cfg.HoursURL, "hours-url", defaultHoursURL, "link sent with opening-hours follow-ups")
	fs.StringVar(&cfg.FAQURL, "faq-url", defaultFAQURL, "link sent with pricing follow-ups")

	fs.StringVar(&cfg.CommitSHA, "commit-sha", "", "build commit reported by /version")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	if err := applyEnvOverrides(fs); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envName returns the environment variable for a flag, e.g. http-port ->
// VOICEBOT_HTTP_PORT.
func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides sets every flag not given on the command line from its
// environment variable, parsed the same way as the flag.
func applyEnvOverrides(fs *flag.FlagSet) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || set[f.Name] {
			return
		}
		env := envName(f.Name)
		val, ok := os.LookupEnv(env)
		if !ok || val == "" {
			return
		}
		if serr := fs.Set(f.Name, val); serr != nil {
			err = fmt.Errorf("parsing %s: %w", env, serr)
		}
	})
	return err
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
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

	u, err := url.Parse(c.PublicURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("public-url must be an absolute http(s) URL, got %q", c.PublicURL)
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")

	if c.StreamURLOverride != "" {
		su, err := url.Parse(c.StreamURLOverride)
		if err != nil || (su.Scheme != "wss" && su.Scheme != "ws") || su.Host == "" {
			return fmt.Errorf("stream-url must be an absolute ws(s) URL, got %q", c.StreamURLOverride)
		}
	}

	c.STTEngine = strings.ToLower(c.STTEngine)
	switch c.STTEngine {
	case STTEngineTranscribe:
		if c.AWSRegion == "" {
			return fmt.Errorf("aws-region is required for the transcribe engine")
		}
	case STTEngineWebSocket:
		if c.STTURL == "" {
			return fmt.Errorf("stt-url is required for the websocket engine")
		}
	default:
		return fmt.Errorf("stt-engine must be one of transcribe, websocket; got %q", c.STTEngine)
	}
	if c.STTDrainTimeout <= 0 {
		return fmt.Errorf("stt-drain-timeout must be positive, got %s", c.STTDrainTimeout)
	}
	if c.StreamIdleTimeout < 0 {
		return fmt.Errorf("stream-idle-timeout must not be negative, got %s", c.StreamIdleTimeout)
	}

	if c.TranscriptBucket != "" && c.AWSRegion == "" {
		return fmt.Errorf("aws-region is required when transcript-bucket is set")
	}
	if c.ArchiveRetentionDays < 0 {
		return fmt.Errorf("archive-retention-days must not be negative, got %d", c.ArchiveRetentionDays)
	}
	if c.RecentCapacity < 1 {
		return fmt.Errorf("recent-capacity must be at least 1, got %d", c.RecentCapacity)
	}

	// Account SID and auth token must both be set or both be empty.
	if (c.TwilioAccountSID == "") != (c.TwilioAuthToken == "") {
		return fmt.Errorf("twilio-account-sid and twilio-auth-token must both be provided or both be omitted")
	}
	if c.ValidateSignatures && c.TwilioAuthToken == "" {
		return fmt.Errorf("validate-signatures requires twilio-auth-token")
	}

	if c.AdminPasswordHash != "" && c.AdminUser == "" {
		return fmt.Errorf("admin-user is required when admin-password-hash is set")
	}

	if c.FallbackWindow <= 0 {
		return fmt.Errorf("fallback-window must be positive, got %s", c.FallbackWindow)
	}

	c.ReplyPolicy = strings.ToLower(c.ReplyPolicy)
	if c.ReplyPolicy != ReplyPolicyKeyword && c.ReplyPolicy != ReplyPolicyStoreInfo {
		return fmt.Errorf("reply-policy must be one of keyword, storeinfo; got %q", c.ReplyPolicy)
	}
	if c.ReplyPolicy == ReplyPolicyStoreInfo {
		for _, f := range []struct{ name, value string }{
			{"store-name", c.StoreName},
			{"store-address", c.StoreAddress},
			{"store-hours", c.StoreHours},
			{"store-closed", c.StoreClosed},
			{"store-phone", c.StorePhone},
		} {
			if strings.TrimSpace(f.value) == "" {
				return fmt.Errorf("%s is required for the storeinfo reply policy", f.name)
			}
		}
	}

	// Follow-up message bodies are built from these.
	if c.TwilioConfigured() {
		if c.HoursURL == "" || c.FAQURL == "" || c.StoreAddress == "" {
			return fmt.Errorf("hours-url, faq-url and store-address are required when twilio credentials are set")
		}
	}

	return nil
}

// StreamURL returns the media stream socket URL announced in TwiML.
func (c *Config) StreamURL() string {
	if c.StreamURLOverride != "" {
		return c.StreamURLOverride
	}
	base := c.PublicURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(base, "/") + "/stream"
}

// TwilioConfigured reports whether REST credentials are present.
func (c *Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

// AdminSecretBytes returns the decoded 32-byte admin token secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) AdminSecretBytes() ([]byte, error) {
	if c.AdminSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating admin secret: %w", err)
		}
		c.AdminSecret = hex.EncodeToString(key)
		slog.Warn("no admin-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.AdminSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding admin secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("admin secret must decode to 32 bytes, got %d", len(key))
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
