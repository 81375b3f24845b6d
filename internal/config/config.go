package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the service configuration read from the environment
type Config struct {
	Port        string
	DatabaseURL string

	IncomingInterval   time.Duration
	OutgoingInterval   time.Duration
	MonitoringInterval time.Duration
	SimulatorActive    bool

	StatisticsEnabled bool
	StatisticsFile    string

	MaxConsecutiveDispatchFailures int
	MaxMessagesPerCycle            int
	DispatchRatePerSecond          float64
	StopWords                      []string
	VariableHistory                bool
	DefaultHoursUntilUnanswered    int

	ShutdownTimeout time.Duration
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Port:                           "8080",
		IncomingInterval:               60 * time.Second,
		OutgoingInterval:               60 * time.Second,
		MonitoringInterval:             300 * time.Second,
		StatisticsFile:                 "statistics.properties",
		MaxConsecutiveDispatchFailures: 3,
		MaxMessagesPerCycle:            25,
		DispatchRatePerSecond:          10,
		StopWords:                      []string{"stop", "stopp"},
		VariableHistory:                true,
		DefaultHoursUntilUnanswered:    4,
		ShutdownTimeout:                30 * time.Second,
	}
}

// Load reads the given .env files, when present, and then the environment.
// Variables already set in the environment win over file values.
func Load(files ...string) (*Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a configuration from a lookup function such as os.LookupEnv
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str("PORT", &cfg.Port)
	p.str("DATABASE_URL", &cfg.DatabaseURL)
	p.boolean("SIMULATOR_ACTIVE", &cfg.SimulatorActive)
	if cfg.SimulatorActive {
		cfg.IncomingInterval = 30 * time.Second
		cfg.OutgoingInterval = 30 * time.Second
		cfg.MonitoringInterval = 60 * time.Second
	}
	p.duration("INCOMING_INTERVAL", &cfg.IncomingInterval)
	p.duration("OUTGOING_INTERVAL", &cfg.OutgoingInterval)
	p.duration("MONITORING_INTERVAL", &cfg.MonitoringInterval)
	p.boolean("STATISTICS_ENABLED", &cfg.StatisticsEnabled)
	p.str("STATISTICS_FILE", &cfg.StatisticsFile)
	p.integer("MAX_CONSECUTIVE_DISPATCH_FAILURES", &cfg.MaxConsecutiveDispatchFailures)
	p.integer("MAX_MESSAGES_PER_CYCLE", &cfg.MaxMessagesPerCycle)
	p.float("DISPATCH_RATE_PER_SECOND", &cfg.DispatchRatePerSecond)
	p.list("STOP_WORDS", &cfg.StopWords)
	p.boolean("VARIABLE_HISTORY", &cfg.VariableHistory)
	p.integer("DEFAULT_HOURS_UNTIL_UNANSWERED", &cfg.DefaultHoursUntilUnanswered)
	p.duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	for name, d := range map[string]time.Duration{
		"INCOMING_INTERVAL":   c.IncomingInterval,
		"OUTGOING_INTERVAL":   c.OutgoingInterval,
		"MONITORING_INTERVAL": c.MonitoringInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.MaxConsecutiveDispatchFailures < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONSECUTIVE_DISPATCH_FAILURES must be at least 1"))
	}
	if c.MaxMessagesPerCycle < 1 {
		errs = append(errs, fmt.Errorf("MAX_MESSAGES_PER_CYCLE must be at least 1"))
	}
	if c.DispatchRatePerSecond <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_RATE_PER_SECOND must be positive"))
	}
	if c.DefaultHoursUntilUnanswered < 1 || c.DefaultHoursUntilUnanswered > 96 {
		errs = append(errs, fmt.Errorf("DEFAULT_HOURS_UNTIL_UNANSWERED must be between 1 and 96"))
	}
	if c.StatisticsEnabled && c.StatisticsFile == "" {
		errs = append(errs, fmt.Errorf("STATISTICS_FILE is required when statistics are enabled"))
	}
	return errors.Join(errs...)
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) get(name string) (string, bool) {
	v, ok := p.lookup(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) str(name string, dst *string) {
	if v, ok := p.get(name); ok {
		*dst = v
	}
}

func (p *parser) boolean(name string, dst *bool) {
	v, ok := p.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", name, v, err))
		return
	}
	*dst = b
}

func (p *parser) integer(name string, dst *int) {
	v, ok := p.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", name, v, err))
		return
	}
	*dst = n
}

func (p *parser) float(name string, dst *float64) {
	v, ok := p.get(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", name, v, err))
		return
	}
	*dst = f
}

// duration accepts Go durations ("90s") and plain seconds ("90")
func (p *parser) duration(name string, dst *time.Duration) {
	v, ok := p.get(name)
	if !ok {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", name, v, err))
		return
	}
	*dst = d
}

func (p *parser) list(name string, dst *[]string) {
	v, ok := p.get(name)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}
