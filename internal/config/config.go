// Package config assembles LeadPipe's runtime configuration from the
// environment (optionally seeded from a .env file) and a YAML keyword file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/classifier"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/util"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadPipe state data
	DefaultStateDir = "/var/lib/leadpipe"
	// DefaultDBFileName is the default SQLite dedup database filename
	DefaultDBFileName = "leadpipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultKeywordsFileName is looked up in the state directory when KEYWORDS_FILE is unset
	DefaultKeywordsFileName = "keywords.yaml"

	DefaultDestination          = "me"
	DefaultBackfillHours        = 24
	DefaultBackfillLimitPerChat = 500
	DefaultMinDelay             = 1500 * time.Millisecond
	DefaultProximityChars       = 80
	DefaultFingerprintMaxChars  = 2000
	DefaultSnippetMaxChars      = 800
	DefaultLiveBufferSize       = 1000
	DefaultLogLevel             = "debug"
)

// Destination transports.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

// Config is the assembled runtime configuration. It is treated as immutable
// once validated.
type Config struct {
	StateDir    string `validate:"required"`
	DatabaseDSN string `validate:"required"`
	WhatsAppDSN string `validate:"required"`

	Destination          string `validate:"required"`
	DestinationTransport string `validate:"oneof=whatsapp twilio"`
	TwilioAccountSID     string `validate:"required_if=DestinationTransport twilio"`
	TwilioAuthToken      string `validate:"required_if=DestinationTransport twilio"`
	TwilioFromNumber     string `validate:"required_if=DestinationTransport twilio"`

	MonitorAll bool
	ChatIDs    []string `validate:"required_if=MonitorAll false,dive,required"`

	BackfillEnabled      bool
	BackfillHours        int           `validate:"gte=0"`
	BackfillLimitPerChat int           `validate:"gt=0"`
	MinDelay             time.Duration `validate:"gte=0"`

	KeywordsFile        string
	Keywords            classifier.Keywords
	ProximityChars      int `validate:"gte=0,lte=1000"`
	FingerprintMaxChars int `validate:"gt=0"`
	SnippetMaxChars     int `validate:"gt=0"`

	LiveBufferSize int    `validate:"gt=0"`
	MetricsAddr    string `validate:"omitempty,hostname_port"`
	LogLevel       string `validate:"oneof=debug info warn error"`

	QRPath      string
	NumericCode bool
}

// BackfillWindow is the backfill lookback as a duration.
func (c Config) BackfillWindow() time.Duration {
	return time.Duration(c.BackfillHours) * time.Hour
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}
}

// FromEnv builds a Config from environment variables. Paths derived from the
// state directory are left empty for ApplyDefaults, which callers run after
// applying command line overrides. The result is not validated.
func FromEnv(lookup LookupFunc) (Config, error) {
	e := envReader{lookup: lookup}
	cfg := Config{
		StateDir:             e.str("LEADPIPE_STATE_DIR", DefaultStateDir),
		DatabaseDSN:          e.str("DATABASE_URL", ""),
		WhatsAppDSN:          e.str("WHATSAPP_DB_DSN", ""),
		Destination:          e.str("DESTINATION", DefaultDestination),
		DestinationTransport: strings.ToLower(e.str("DESTINATION_TRANSPORT", TransportWhatsApp)),
		TwilioAccountSID:     e.str("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:      e.str("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:     e.str("TWILIO_FROM_NUMBER", ""),
		MonitorAll:           e.bool("MONITOR_ALL_CHATS", false),
		ChatIDs:              SplitList(e.str("MONITOR_CHAT_IDS", "")),
		BackfillEnabled:      e.bool("BACKFILL_ENABLED", true),
		BackfillHours:        e.int("BACKFILL_HOURS", DefaultBackfillHours),
		BackfillLimitPerChat: e.int("BACKFILL_LIMIT_PER_CHAT", DefaultBackfillLimitPerChat),
		MinDelay:             e.seconds("MIN_DELAY_SECONDS", DefaultMinDelay),
		KeywordsFile:         e.str("KEYWORDS_FILE", ""),
		ProximityChars:       e.int("PROXIMITY_CHARS", DefaultProximityChars),
		FingerprintMaxChars:  e.int("FINGERPRINT_MAX_CHARS", DefaultFingerprintMaxChars),
		SnippetMaxChars:      e.int("SNIPPET_MAX_CHARS", DefaultSnippetMaxChars),
		LiveBufferSize:       e.int("LIVE_BUFFER_SIZE", DefaultLiveBufferSize),
		MetricsAddr:          e.str("METRICS_ADDR", ""),
		LogLevel:             strings.ToLower(e.str("LOG_LEVEL", DefaultLogLevel)),
		QRPath:               e.str("WHATSAPP_QR_OUTPUT", ""),
		NumericCode:          e.bool("WHATSAPP_NUMERIC_CODE", false),
	}
	if len(e.errs) > 0 {
		return cfg, errors.Join(e.errs...)
	}
	return cfg, nil
}

// ApplyDefaults fills the paths that derive from the state directory.
func (c *Config) ApplyDefaults() {
	if c.DatabaseDSN == "" {
		c.DatabaseDSN = filepath.Join(c.StateDir, DefaultDBFileName)
	}
	if c.WhatsAppDSN == "" {
		// Share a Postgres database; badger and SQLite dedup stores get their own session file.
		if store.DetectDSNType(c.DatabaseDSN) == "postgres" {
			c.WhatsAppDSN = c.DatabaseDSN
		} else {
			c.WhatsAppDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
		}
	}
	if c.KeywordsFile == "" {
		c.KeywordsFile = filepath.Join(c.StateDir, DefaultKeywordsFileName)
	}
}

// keywordFile is the YAML layout of KEYWORDS_FILE.
type keywordFile struct {
	classifier.Keywords `yaml:",inline"`
	ProximityChars      *int `yaml:"proximity_chars"`
}

// LoadKeywords reads the keyword lists from KeywordsFile. A proximity_chars
// entry in the file overrides PROXIMITY_CHARS.
func (c *Config) LoadKeywords() error {
	data, err := os.ReadFile(c.KeywordsFile)
	if err != nil {
		return fmt.Errorf("failed to read keywords file %s: %w", c.KeywordsFile, err)
	}
	var kf keywordFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return fmt.Errorf("failed to parse keywords file %s: %w", c.KeywordsFile, err)
	}
	c.Keywords = kf.Keywords
	if kf.ProximityChars != nil {
		c.ProximityChars = *kf.ProximityChars
	}
	if len(c.Keywords.RoleKeywords) == 0 || len(c.Keywords.SeekingKeywords) == 0 {
		slog.Warn("Keywords file has no role or seeking keywords; nothing will be classified as relevant", "path", c.KeywordsFile)
	}
	slog.Debug("Keywords loaded",
		"path", c.KeywordsFile,
		"exclude_platforms", len(c.Keywords.ExcludePlatforms),
		"exclude_keywords", len(c.Keywords.ExcludeKeywords),
		"role_keywords", len(c.Keywords.RoleKeywords),
		"seeking_keywords", len(c.Keywords.SeekingKeywords))
	return nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SplitList splits a comma or whitespace separated list, dropping empties.
func SplitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (e *envReader) bool(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, ok := util.ParseBool(v)
	if !ok {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

func (e *envReader) seconds(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a number of seconds", key, v))
		return def
	}
	return time.Duration(f * float64(time.Second))
}
