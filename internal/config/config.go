package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen    = "127.0.0.1:8080"
	defaultTimezone  = "UTC"
	defaultWeekStart = "monday"
	defaultRefresh   = "*/15 * * * *"
	defaultDatabase  = "./var/calgrid.db"
	defaultCacheDir  = "./var/ics-cache"
	defaultHorizon   = "90d"
	defaultLogLevel  = "info"
)

// CronParser accepts standard 5-field expressions and descriptors such as
// "@hourly". The refresh scheduler parses with the same options.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ICSConfig describes a single calendar source: a remote feed (URL) or a
// local .ics file (Path).
type ICSConfig struct {
	// ID becomes the calendar id of every imported event.
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url,omitempty" json:"url,omitempty"`
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// LayoutConfig tunes the layout engine.
type LayoutConfig struct {
	// MinHeightMinutes is the floor for a short event's drawn height.
	MinHeightMinutes float64 `yaml:"min_height_minutes" json:"min_height_minutes"`
	// LaneOffsetPercent is the share of a column that overlapping events
	// are fanned across.
	LaneOffsetPercent float64 `yaml:"lane_offset_percent" json:"lane_offset_percent"`
	// RowLength is the number of day cells per grid row.
	RowLength int `yaml:"row_length" json:"row_length"`
	// HonorUntil stops recurrences at their until instant.
	HonorUntil *bool `yaml:"honor_until,omitempty" json:"honor_until,omitempty"`
	// MaxOccurrences caps a single template's expansion.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`
	// Parallelism is the number of day cells laid out concurrently.
	Parallelism int `yaml:"parallelism" json:"parallelism"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone day cells are cut in (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron schedules periodic import of ICS sources (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Database is the SQLite file holding templates.
	Database string `yaml:"database" json:"database"`

	// CacheDir holds the HTTP cache of remote feeds.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// ExpandHorizon bounds open-ended recurrences relative to now, as a
	// human duration ("90d", "12w", "2160h").
	ExpandHorizon string `yaml:"expand_horizon" json:"expand_horizon"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// ICS is the list of subscribed calendar sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	Layout LayoutConfig `yaml:"layout" json:"layout"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	honor := true
	return &Config{
		Listen:        defaultListen,
		Timezone:      defaultTimezone,
		WeekStart:     defaultWeekStart,
		RefreshCron:   defaultRefresh,
		Database:      defaultDatabase,
		CacheDir:      defaultCacheDir,
		ExpandHorizon: defaultHorizon,
		LogLevel:      defaultLogLevel,
		ICS:           []ICSConfig{},
		Layout: LayoutConfig{
			MinHeightMinutes:  60,
			LaneOffsetPercent: 30,
			RowLength:         7,
			HonorUntil:        &honor,
			MaxOccurrences:    5000,
			Parallelism:       4,
		},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = def.WeekStart
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.Database == "" {
		c.Database = def.Database
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.ExpandHorizon == "" {
		c.ExpandHorizon = def.ExpandHorizon
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = sourceID(c.ICS[i], i)
		}
	}

	l := &c.Layout
	if l.MinHeightMinutes <= 0 {
		l.MinHeightMinutes = def.Layout.MinHeightMinutes
	}
	if l.LaneOffsetPercent <= 0 || l.LaneOffsetPercent >= 100 {
		l.LaneOffsetPercent = def.Layout.LaneOffsetPercent
	}
	if l.RowLength <= 0 {
		l.RowLength = def.Layout.RowLength
	}
	if l.HonorUntil == nil {
		l.HonorUntil = def.Layout.HonorUntil
	}
	if l.MaxOccurrences <= 0 {
		l.MaxOccurrences = def.Layout.MaxOccurrences
	}
	if l.Parallelism <= 0 {
		l.Parallelism = def.Layout.Parallelism
	}
}

// Validate reports settings that cannot be defaulted away.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := CronParser.Parse(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	if _, err := c.Horizon(); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool, len(c.ICS))
	for _, src := range c.ICS {
		switch {
		case src.URL == "" && src.Path == "":
			errs = append(errs, fmt.Errorf("ics %q: needs url or path", src.ID))
		case src.URL != "" && src.Path != "":
			errs = append(errs, fmt.Errorf("ics %q: url and path are exclusive", src.ID))
		}
		if seen[src.ID] {
			errs = append(errs, fmt.Errorf("ics %q: duplicate id", src.ID))
		}
		seen[src.ID] = true
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FirstWeekday maps WeekStart to a time.Weekday.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// Horizon parses ExpandHorizon.
func (c *Config) Horizon() (time.Duration, error) {
	d, err := str2duration.ParseDuration(c.ExpandHorizon)
	if err != nil {
		return 0, fmt.Errorf("expand_horizon %q: %w", c.ExpandHorizon, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("expand_horizon %q: must not be negative", c.ExpandHorizon)
	}
	return d, nil
}

// HonorUntil reports the layout.honor_until setting (true by default).
func (c *Config) HonorUntil() bool {
	return c.Layout.HonorUntil == nil || *c.Layout.HonorUntil
}

func sourceID(src ICSConfig, i int) string {
	switch {
	case src.Name != "":
		return strings.ToLower(strings.Join(strings.Fields(src.Name), "-"))
	case src.Path != "":
		return strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path))
	default:
		return fmt.Sprintf("ics-%d", i+1)
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions and returned.
//   - Otherwise the YAML is read, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calgrid-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
