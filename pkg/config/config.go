package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Overlay corners understood by the HTML overlay.
const (
	PositionBottomRight = "bottom-right"
	PositionBottomLeft  = "bottom-left"
	PositionTopRight    = "top-right"
	PositionTopLeft     = "top-left"
)

// Config holds the configuration for the devbar probe.
type Config struct {
	ServiceName string       `mapstructure:"service_name"`
	Debug       bool         `mapstructure:"debug"`
	LogLevel    string       `mapstructure:"log_level"`
	DevBar      DevBarConfig `mapstructure:"devbar"`
}

// DevBarConfig is the nested devbar settings object.
type DevBarConfig struct {
	// ShowBar injects the HTML overlay. Defaults to Config.Debug.
	ShowBar bool `mapstructure:"show_bar"`
	// ShowHeaders emits the DevBar-* response headers.
	ShowHeaders bool `mapstructure:"show_headers"`
	// EnableExtension adds the DevBar-Data JSON header; requires ShowHeaders.
	EnableExtension bool `mapstructure:"enable_extension"`
	// Position is the overlay corner; unknown values mean bottom-right.
	Position          string     `mapstructure:"position"`
	DebugEndpoint     string     `mapstructure:"debug_endpoint"`
	NPlusOneThreshold int        `mapstructure:"n_plus_one_threshold"`
	Thresholds        Thresholds `mapstructure:"thresholds"`
	// RuntimeInterval is how often runtime figures of the debug endpoint are
	// refreshed in the background. Zero disables the refresher.
	RuntimeInterval time.Duration `mapstructure:"runtime_interval"`
}

// Thresholds drive overlay colouring only; they never affect accounting.
type Thresholds struct {
	QueryCount Level `mapstructure:"query_count"`
	// Duration levels are in milliseconds.
	Duration Level `mapstructure:"duration"`
}

// Level is a warning/critical pair. A zero value disables that level.
type Level struct {
	Warning  float64 `mapstructure:"warning"`
	Critical float64 `mapstructure:"critical"`
}

// Severity classifies v against the level: 0 normal, 1 warning, 2 critical.
func (l Level) Severity(v float64) int {
	switch {
	case l.Critical > 0 && v >= l.Critical:
		return 2
	case l.Warning > 0 && v >= l.Warning:
		return 1
	default:
		return 0
	}
}

// Enabled reports whether the probe produces any per-request output.
func (c *Config) Enabled() bool {
	return c.DevBar.ShowBar || c.DevBar.ShowHeaders
}

// ExtensionEnabled reports whether the structured DevBar-Data header is emitted.
func (c *Config) ExtensionEnabled() bool {
	return c.DevBar.EnableExtension && c.DevBar.ShowHeaders
}

var defaults = map[string]any{
	"service_name":                           "unknown-service",
	"debug":                                  false,
	"log_level":                              "info",
	"devbar.show_headers":                    false,
	"devbar.enable_extension":                false,
	"devbar.position":                        PositionBottomRight,
	"devbar.debug_endpoint":                  "/debug/devbar",
	"devbar.n_plus_one_threshold":            5,
	"devbar.runtime_interval":                10 * time.Second,
	"devbar.thresholds.query_count.warning":  20,
	"devbar.thresholds.query_count.critical": 50,
	"devbar.thresholds.duration.warning":     500,
	"devbar.thresholds.duration.critical":    1500,
}

// Default returns the configuration used when nothing is configured. The bar
// follows debug, which defaults to false.
func Default() *Config {
	return &Config{
		ServiceName: "unknown-service",
		LogLevel:    "info",
		DevBar: DevBarConfig{
			Position:          PositionBottomRight,
			DebugEndpoint:     "/debug/devbar",
			NPlusOneThreshold: 5,
			RuntimeInterval:   10 * time.Second,
			Thresholds: Thresholds{
				QueryCount: Level{Warning: 20, Critical: 50},
				Duration:   Level{Warning: 500, Critical: 1500},
			},
		},
	}
}

// Load reads config.yaml from path (if present) and the environment.
// Environment variables use the upper-cased key with dots replaced by
// underscores, e.g. DEVBAR_SHOW_HEADERS or DEVBAR_THRESHOLDS_DURATION_WARNING.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.AddConfigPath(path)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// show_bar has no static default, bind it so the environment is seen.
	if err := v.BindEnv("devbar.show_bar"); err != nil {
		return nil, fmt.Errorf("config: bind devbar.show_bar: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: parse config: %w", err)
	}
	if !v.IsSet("devbar.show_bar") {
		cfg.DevBar.ShowBar = cfg.Debug
	}
	return cfg, nil
}
