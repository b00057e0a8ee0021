package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/bookingcal/project/internal/calendar"
	"gopkg.in/yaml.v3"
)

// MinPaletteColors is the smallest member palette that keeps hash buckets
// visually apart.
const MinPaletteColors = 9

var ErrPaletteTooSmall = errors.New("palette needs more distinct colors")

// LayoutConfig holds the timeline geometry.
type LayoutConfig struct {
	PixelsPerMinute   float64 `yaml:"pixels_per_minute"`
	MinEventHeight    float64 `yaml:"min_event_height"`
	CompactMaxColumns int     `yaml:"compact_max_columns"`
	CompactNudgePx    float64 `yaml:"compact_nudge_px"`
}

type MonthConfig struct {
	MaxTags int `yaml:"max_tags"`
}

// Config is the calendar settings file.
type Config struct {
	// Timezone is the IANA display timezone, e.g. "Asia/Kolkata".
	Timezone string `yaml:"timezone"`
	// WeekStart is "monday" or "sunday".
	WeekStart string `yaml:"week_start"`
	// BookingOffsetMinutes corrects stored booking timestamps. Keep at 0 when
	// the store holds unambiguous UTC.
	BookingOffsetMinutes   int `yaml:"booking_offset_minutes"`
	DefaultDurationMinutes int `yaml:"default_duration_minutes"`
	// HorizonDays bounds recurring expansion for the upcoming list and ICS feed.
	HorizonDays int `yaml:"horizon_days"`

	Layout LayoutConfig `yaml:"layout"`
	Month  MonthConfig  `yaml:"month"`

	TeamMembers []string `yaml:"team_members"`
	AdminName   string   `yaml:"admin_name"`

	Palette          []calendar.Color        `yaml:"palette"`
	RecurringPalette []calendar.Color        `yaml:"recurring_palette"`
	KeywordColors    []calendar.KeywordColor `yaml:"keyword_colors"`
	DefaultColor     calendar.Color          `yaml:"default_color"`

	// Maintenance is a cron schedule for refresh-token pruning.
	Maintenance string `yaml:"maintenance"`
}

func Default() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills zero values so partial files behave like full ones.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = "UTC"
	}
	switch strings.ToLower(strings.TrimSpace(c.WeekStart)) {
	case "sunday":
		c.WeekStart = "sunday"
	default:
		c.WeekStart = "monday"
	}
	if c.DefaultDurationMinutes <= 0 {
		c.DefaultDurationMinutes = calendar.DefaultDurationMinutes
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 28
	}
	if c.Layout.PixelsPerMinute <= 0 {
		c.Layout.PixelsPerMinute = calendar.DefaultPixelsPerMinute
	}
	if c.Layout.MinEventHeight <= 0 {
		c.Layout.MinEventHeight = calendar.DefaultMinEventHeight
	}
	if c.Layout.CompactMaxColumns <= 0 {
		c.Layout.CompactMaxColumns = calendar.DefaultCompactMaxColumns
	}
	if c.Layout.CompactNudgePx <= 0 {
		c.Layout.CompactNudgePx = calendar.DefaultCompactNudgePx
	}
	if c.Month.MaxTags <= 0 {
		c.Month.MaxTags = calendar.DefaultMonthMaxTags
	}
	if c.TeamMembers == nil {
		c.TeamMembers = []string{"Gauri", "Monica", "Shafoli"}
	}
	if strings.TrimSpace(c.AdminName) == "" {
		c.AdminName = "admin"
	}
	if len(c.Palette) == 0 {
		c.Palette = append([]calendar.Color(nil), calendar.DefaultPalette...)
	}
	if len(c.RecurringPalette) == 0 {
		c.RecurringPalette = append([]calendar.Color(nil), calendar.RecurringPalette...)
	}
	if c.KeywordColors == nil {
		c.KeywordColors = append([]calendar.KeywordColor(nil), calendar.DefaultKeywordColors...)
	}
	if c.DefaultColor == "" {
		c.DefaultColor = calendar.DefaultAccent
	}
	if strings.TrimSpace(c.Maintenance) == "" {
		c.Maintenance = "@hourly"
	}
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// Normalizer builds the time-range normalizer for these settings.
func (c *Config) Normalizer() calendar.Normalizer {
	n := calendar.NewNormalizer(c.Location())
	n.BookingOffset = time.Duration(c.BookingOffsetMinutes) * time.Minute
	n.DefaultDuration = c.DefaultDurationMinutes
	return n
}

// Composer builds the view composer for these settings.
func (c *Config) Composer() calendar.Composer {
	comp := calendar.NewComposer(c.Location())
	comp.Engine.PixelsPerMinute = c.Layout.PixelsPerMinute
	comp.Engine.MinHeight = c.Layout.MinEventHeight
	comp.Compaction = calendar.Compaction{MaxColumns: c.Layout.CompactMaxColumns, NudgePx: c.Layout.CompactNudgePx}
	comp.WeekStart = c.FirstWeekday()
	comp.MonthMaxTags = c.Month.MaxTags
	comp.Resolver = calendar.Resolver{
		Palette:          c.Palette,
		RecurringPalette: c.RecurringPalette,
		Keywords:         c.KeywordColors,
		Default:          c.DefaultColor,
	}
	return comp
}

// Load reads path. A missing file is created with defaults and 0600 permissions.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := Default()
			if err := Save(path, cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config timezone %q: %w", c.Timezone, err)
	}
	seen := map[string]bool{}
	for _, color := range c.Palette {
		if v := strings.ToLower(strings.TrimSpace(string(color))); v != "" {
			seen[v] = true
		}
	}
	if len(seen) < MinPaletteColors {
		return fmt.Errorf("%w: %d of %d", ErrPaletteTooSmall, len(seen), MinPaletteColors)
	}
	return nil
}

// Save writes cfg atomically through a temp file in the same directory.
func Save(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
