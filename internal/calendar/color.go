package calendar

import (
	"strings"
	"sync"
	"unicode/utf16"
)

// Color is a CSS hex color.
type Color string

const DefaultAccent Color = "#1a73e8"

// DefaultPalette is the team-member palette indexed by name hash.
var DefaultPalette = []Color{
	"#1a73e8",
	"#ea4335",
	"#34a853",
	"#fbbc04",
	"#9334e6",
	"#00897b",
	"#e8710a",
	"#c2185b",
	"#3949ab",
	"#795548",
}

// RecurringPalette colors recurring tasks whose owner has no pool color.
var RecurringPalette = []Color{
	"#ea4335",
	"#fbbc04",
	"#34a853",
	"#00897b",
	"#1565c0",
	"#6f42c1",
}

// KeywordColor maps a lower-case title substring to a color.
type KeywordColor struct {
	Keyword string `yaml:"keyword" json:"keyword"`
	Color   Color  `yaml:"color" json:"color"`
}

// DefaultKeywordColors is tested in order; the first match wins.
var DefaultKeywordColors = []KeywordColor{
	{Keyword: "lunch", Color: "#5a3f2b"},
	{Keyword: "team meeting", Color: "#fbbc04"},
	{Keyword: "meeting/check", Color: "#fbbc04"},
	{Keyword: "application", Color: "#a87b58"},
	{Keyword: "other (specify", Color: "#d63384"},
	{Keyword: "daily night slot", Color: "#6f42c1"},
	{Keyword: "existing client", Color: "#1a73e8"},
	{Keyword: "new client", Color: "#1a73e8"},
}

// ColorForTitle runs the keyword table against title, case-insensitively.
func ColorForTitle(title string, table []KeywordColor) (Color, bool) {
	t := strings.ToLower(title)
	for _, kc := range table {
		if kc.Keyword == "" {
			continue
		}
		if strings.Contains(t, strings.ToLower(kc.Keyword)) {
			return kc.Color, true
		}
	}
	return "", false
}

// HashName accumulates hash*31+code over UTF-16 code units with int32
// wraparound and returns the absolute value.
func HashName(name string) int64 {
	var h int32
	for _, c := range utf16.Encode([]rune(name)) {
		h = h*31 + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}

// ColorMap is a team member to color assignment. Treat it as read-only.
type ColorMap map[string]Color

// BuildColorMap assigns every member of pool a palette color by name hash.
// It never mutates its inputs and always returns a fresh map.
func BuildColorMap(pool []string, palette []Color) ColorMap {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	m := make(ColorMap, len(pool))
	for _, name := range pool {
		if name == "" {
			continue
		}
		m[name] = palette[HashName(name)%int64(len(palette))]
	}
	return m
}

// Resolver composes the keyword, hash, recurring and default tiers.
type Resolver struct {
	Palette          []Color
	RecurringPalette []Color
	Keywords         []KeywordColor
	Default          Color
}

func NewResolver() Resolver {
	return Resolver{
		Palette:          DefaultPalette,
		RecurringPalette: RecurringPalette,
		Keywords:         DefaultKeywordColors,
		Default:          DefaultAccent,
	}
}

// Resolve picks the color for e given a map built from the member pool.
func (r Resolver) Resolve(e Event, members ColorMap) Color {
	if e.IsRecurring() {
		if c, ok := ColorForTitle(e.Title, r.Keywords); ok {
			return c
		}
	}
	if e.TeamMember != "" {
		if c, ok := members[e.TeamMember]; ok {
			return c
		}
	}
	if e.IsRecurring() && len(r.RecurringPalette) > 0 {
		if e.TeamMember == "" {
			return r.RecurringPalette[0]
		}
		first := utf16.Encode([]rune(e.TeamMember))[0]
		return r.RecurringPalette[int(first)%len(r.RecurringPalette)]
	}
	if r.Default == "" {
		return DefaultAccent
	}
	return r.Default
}

// ResolveColor resolves with the default tables against a fresh map of pool.
func ResolveColor(e Event, pool []string) Color {
	r := NewResolver()
	return r.Resolve(e, BuildColorMap(pool, r.Palette))
}

// ColorMapCache memoizes BuildColorMap per distinct pool. A changed pool
// produces a new map; previously returned maps are never modified.
type ColorMapCache struct {
	Palette []Color

	mu      sync.Mutex
	key     string
	current ColorMap
}

func (c *ColorMapCache) Get(pool []string) ColorMap {
	key := strings.Join(pool, "\x00")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.key == key {
		return c.current
	}
	c.key = key
	c.current = BuildColorMap(pool, c.Palette)
	return c.current
}
