package reminder

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTick is the dispatch loop period used when none is configured.
const DefaultTick = time.Second

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

// Interval is a parsed repeat period. Magnitude and Unit keep what the user
// asked for so status output can echo it back.
type Interval struct {
	Duration  time.Duration `json:"duration"`
	Magnitude float64       `json:"magnitude"`
	Unit      string        `json:"unit"`
	Preset    bool          `json:"preset,omitempty"`
}

func (iv Interval) IsZero() bool { return iv.Duration <= 0 }

func (iv Interval) String() string {
	if iv.IsZero() {
		return "unset"
	}
	if iv.Preset {
		return iv.Unit
	}
	label := iv.Unit
	if iv.Magnitude != 1 {
		label += "s"
	}
	return strconv.FormatFloat(iv.Magnitude, 'f', -1, 64) + " " + label
}

var builtinPresets = map[string]time.Duration{
	"hourly":      time.Hour,
	"daily":       day,
	"weekly":      week,
	"fortnightly": 2 * week,
	"monthly":     month,
	"quarterly":   91 * day,
	"annually":    year,
	"yearly":      year,
}

type unitDef struct {
	label  string
	factor time.Duration
}

var units = map[string]unitDef{}

func init() {
	for _, u := range []struct {
		def     unitDef
		aliases []string
	}{
		{unitDef{"second", time.Second}, []string{"second", "sec", "s"}},
		{unitDef{"minute", time.Minute}, []string{"minute", "min", "m"}},
		{unitDef{"hour", time.Hour}, []string{"hour", "hr", "h"}},
		{unitDef{"day", day}, []string{"day", "d"}},
		{unitDef{"week", week}, []string{"week", "wk", "w"}},
		{unitDef{"month", month}, []string{"month", "mo"}},
		{unitDef{"year", year}, []string{"year", "yr", "y"}},
	} {
		for _, a := range u.aliases {
			units[a] = u.def
		}
	}
}

// Parser turns user input into an Interval. A Parser is immutable after
// NewParser and safe for concurrent use.
type Parser struct {
	tick    time.Duration
	presets map[string]time.Duration
}

// NewParser builds a parser for the given tick granularity. extra adds or
// overrides named presets; names are matched case-insensitively.
func NewParser(tick time.Duration, extra map[string]time.Duration) *Parser {
	if tick <= 0 {
		tick = DefaultTick
	}
	presets := make(map[string]time.Duration, len(builtinPresets)+len(extra))
	for k, v := range builtinPresets {
		presets[k] = v
	}
	for k, v := range extra {
		k = normalizePreset(k)
		if k != "" && v > 0 {
			presets[k] = v
		}
	}
	return &Parser{tick: tick, presets: presets}
}

// Tick returns the exclusive lower bound for parsed intervals.
func (p *Parser) Tick() time.Duration { return p.tick }

// Presets returns a copy of the known preset names and durations.
func (p *Parser) Presets() map[string]time.Duration {
	out := make(map[string]time.Duration, len(p.presets))
	for k, v := range p.presets {
		out[k] = v
	}
	return out
}

// Parse resolves magnitude and an optional unit.
//
// A preset name ("daily", "@weekly") wins over the unit. "@every 1h30m" is
// read as a cron constant-delay descriptor. Anything else must be a number;
// the unit is matched case-insensitively with a plural "s" allowed, and an
// unknown or empty unit means seconds. The result must exceed the tick.
func (p *Parser) Parse(magnitude, unit string) (Interval, error) {
	raw := strings.TrimSpace(magnitude)

	if d, ok := p.presets[normalizePreset(raw)]; ok {
		return Interval{Duration: d, Magnitude: 1, Unit: normalizePreset(raw), Preset: true}, nil
	}

	if strings.HasPrefix(strings.ToLower(raw), "@every") {
		return p.parseEvery(raw)
	}

	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return Interval{}, &ParseError{Kind: NotANumber, Input: raw}
	}

	u := resolveUnit(unit)
	secs := n * u.factor.Seconds()
	if secs*float64(time.Second) > math.MaxInt64 {
		return Interval{}, &ParseError{Kind: TooLarge, Input: raw}
	}
	d := time.Duration(math.Round(secs * float64(time.Second)))
	if d <= p.tick {
		return Interval{}, &ParseError{Kind: TooSmall, Input: raw, Min: p.tick}
	}
	return Interval{Duration: d, Magnitude: n, Unit: u.label}, nil
}

func (p *Parser) parseEvery(raw string) (Interval, error) {
	sched, err := cron.ParseStandard("@every " + strings.TrimSpace(raw[len("@every"):]))
	if err != nil {
		return Interval{}, &ParseError{Kind: NotANumber, Input: raw}
	}
	every, ok := sched.(cron.ConstantDelaySchedule)
	if !ok {
		return Interval{}, &ParseError{Kind: NotANumber, Input: raw}
	}
	if every.Delay <= p.tick {
		return Interval{}, &ParseError{Kind: TooSmall, Input: raw, Min: p.tick}
	}
	return Interval{Duration: every.Delay, Magnitude: every.Delay.Seconds(), Unit: "second"}, nil
}

func resolveUnit(tok string) unitDef {
	tok = strings.ToLower(strings.TrimSpace(tok))
	if u, ok := units[tok]; ok {
		return u
	}
	// "ms" must not turn into minutes, so short tokens keep their "s".
	if len(tok) > 2 && strings.HasSuffix(tok, "s") {
		if u, ok := units[strings.TrimSuffix(tok, "s")]; ok {
			return u
		}
	}
	return units["second"]
}

func normalizePreset(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}
