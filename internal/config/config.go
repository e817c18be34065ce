// Package config provides configuration management for vr-obs-switcher
package config

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the root configuration structure
type Config struct {
	Switcher SwitcherConfig `mapstructure:"switcher"`
	OBS      OBSConfig      `mapstructure:"obs"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SwitcherConfig configures the polling loop
type SwitcherConfig struct {
	FrontSource         string        `mapstructure:"front_source"`
	BackSource          string        `mapstructure:"back_source"`
	Threshold           float64       `mapstructure:"threshold"` // degrees
	Interval            float64       `mapstructure:"interval"`  // seconds
	RequiredProcesses   []string      `mapstructure:"required_processes"`
	ProcessPollInterval time.Duration `mapstructure:"process_poll_interval"`
	FollowScene         bool          `mapstructure:"follow_scene"`
	AutoCalibrate       bool          `mapstructure:"auto_calibrate"`
	CalibrationDelay    time.Duration `mapstructure:"calibration_delay"`
	DryRun              bool          `mapstructure:"dry_run"`
}

// PollInterval returns Interval as a duration
func (s SwitcherConfig) PollInterval() time.Duration {
	return time.Duration(s.Interval * float64(time.Second))
}

// OBSConfig configures the OBS websocket connection
type OBSConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Password       string        `mapstructure:"password"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TrackingConfig selects and configures the tracking provider
type TrackingConfig struct {
	Provider string    `mapstructure:"provider"` // vmc, mock
	Origin   string    `mapstructure:"origin"`   // seated, standing, raw
	VMC      VMCConfig `mapstructure:"vmc"`
}

// VMCConfig configures the VMC protocol receiver
type VMCConfig struct {
	ListenAddr       string        `mapstructure:"listen_addr"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"`
}

// ServerConfig configures the status server
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	BroadcastHz     int           `mapstructure:"broadcast_hz"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Provider names
const (
	ProviderVMC  = "vmc"
	ProviderMock = "mock"
)

// flagKeys maps command-line flags onto config keys
var flagKeys = map[string]string{
	"front-source":   "switcher.front_source",
	"back-source":    "switcher.back_source",
	"threshold":      "switcher.threshold",
	"interval":       "switcher.interval",
	"follow-scene":   "switcher.follow_scene",
	"auto-calibrate": "switcher.auto_calibrate",
	"dry-run":        "switcher.dry_run",
	"ip":             "obs.host",
	"port":           "obs.port",
	"password":       "obs.password",
}

// DefaultProcesses returns the executables that must be running before
// connecting: OBS and the SteamVR server
func DefaultProcesses() []string {
	if runtime.GOOS == "windows" {
		return []string{"obs64.exe", "vrserver.exe"}
	}
	return []string{"obs", "vrserver"}
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Switcher: SwitcherConfig{
			FrontSource:         "Front Camera",
			BackSource:          "Back Camera",
			Threshold:           30,
			Interval:            0.1,
			RequiredProcesses:   DefaultProcesses(),
			ProcessPollInterval: 1 * time.Second,
			CalibrationDelay:    3 * time.Second,
		},
		OBS: OBSConfig{
			Host:           "localhost",
			Port:           4455,
			DialTimeout:    10 * time.Second,
			RequestTimeout: 5 * time.Second,
		},
		Tracking: TrackingConfig{
			Provider: ProviderVMC,
			Origin:   "standing",
			VMC: VMCConfig{
				ListenAddr:       "127.0.0.1:39539",
				StaleAfter:       500 * time.Millisecond,
				DiscoveryTimeout: 3 * time.Second,
			},
		},
		Server: ServerConfig{
			Port:            9000,
			BroadcastHz:     10,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// RegisterFlags defines the command-line flags on fs
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String("front-source", d.Switcher.FrontSource, "source shown while facing forward")
	fs.String("back-source", d.Switcher.BackSource, "source shown while facing backward")
	fs.Float64("threshold", d.Switcher.Threshold, "degrees either side of forward that count as front")
	fs.Float64("interval", d.Switcher.Interval, "seconds between heading samples")
	fs.String("ip", d.OBS.Host, "OBS websocket host")
	fs.Int("port", d.OBS.Port, "OBS websocket port")
	fs.String("password", d.OBS.Password, "OBS websocket password")

	fs.String("config", "", "optional YAML config file")
	fs.Bool("debug", false, "enable debug logging")
	fs.Bool("version", false, "print version and exit")
	fs.Bool("mock", false, "use the mock tracking provider (sweeping heading)")
	fs.Bool("follow-scene", false, "follow program scene switches in OBS")
	fs.Bool("auto-calibrate", false, "zero the heading after a delay instead of waiting for Enter")
	fs.Bool("dry-run", false, "toggle an in-memory scene instead of connecting to OBS")
	fs.Int("status-port", 0, "enable the status server on this port")
}

// Load loads configuration from file, environment and flags.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			// Only warn, don't fail - we have defaults
			slog.Warn("config file not loaded, using defaults", "path", path, "error", err)
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("VRSWITCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// No default, so AutomaticEnv alone never surfaces it to Unmarshal
	if err := v.BindEnv("switcher.required_processes", "VRSWITCH_SWITCHER_REQUIRED_PROCESSES"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Switcher.RequiredProcesses == nil && cfg.Tracking.Provider != ProviderMock {
		cfg.Switcher.RequiredProcesses = DefaultProcesses()
	}

	return &cfg, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	// Shorthand flags that set a value rather than mirror it
	if on, _ := fs.GetBool("debug"); on {
		v.Set("logging.level", "debug")
	}
	if on, _ := fs.GetBool("mock"); on {
		v.Set("tracking.provider", ProviderMock)
	}
	if port, _ := fs.GetInt("status-port"); port != 0 {
		v.Set("server.enabled", true)
		v.Set("server.port", port)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Switcher defaults
	v.SetDefault("switcher.front_source", "Front Camera")
	v.SetDefault("switcher.back_source", "Back Camera")
	v.SetDefault("switcher.threshold", 30.0)
	v.SetDefault("switcher.interval", 0.1)
	v.SetDefault("switcher.process_poll_interval", "1s")
	v.SetDefault("switcher.follow_scene", false)
	v.SetDefault("switcher.auto_calibrate", false)
	v.SetDefault("switcher.calibration_delay", "3s")
	v.SetDefault("switcher.dry_run", false)

	// OBS defaults
	v.SetDefault("obs.host", "localhost")
	v.SetDefault("obs.port", 4455)
	v.SetDefault("obs.password", "")
	v.SetDefault("obs.dial_timeout", "10s")
	v.SetDefault("obs.request_timeout", "5s")

	// Tracking defaults
	v.SetDefault("tracking.provider", ProviderVMC)
	v.SetDefault("tracking.origin", "standing")
	v.SetDefault("tracking.vmc.listen_addr", "127.0.0.1:39539")
	v.SetDefault("tracking.vmc.stale_after", "500ms")
	v.SetDefault("tracking.vmc.discovery_timeout", "3s")

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.broadcast_hz", 10)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.graceful_timeout", "5s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	s := c.Switcher

	if s.Threshold < 0 || s.Threshold > 180 {
		return fmt.Errorf("threshold must be between 0 and 180, got %g", s.Threshold)
	}

	if s.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %g", s.Interval)
	}

	if s.ProcessPollInterval <= 0 {
		return fmt.Errorf("process_poll_interval must be positive, got %v", s.ProcessPollInterval)
	}

	if s.FrontSource == "" || s.BackSource == "" {
		return fmt.Errorf("front and back source names are required")
	}

	if s.FrontSource == s.BackSource {
		return fmt.Errorf("front and back sources must differ, both are %q", s.FrontSource)
	}

	if c.OBS.Port < 1 || c.OBS.Port > 65535 {
		return fmt.Errorf("invalid obs port: %d", c.OBS.Port)
	}

	switch c.Tracking.Provider {
	case ProviderVMC, ProviderMock:
	default:
		return fmt.Errorf("unknown tracking provider %q", c.Tracking.Provider)
	}

	switch c.Tracking.Origin {
	case "seated", "standing", "raw":
	default:
		return fmt.Errorf("unknown tracking origin %q", c.Tracking.Origin)
	}

	if c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return fmt.Errorf("invalid server port: %d", c.Server.Port)
		}
		if c.Server.BroadcastHz < 1 || c.Server.BroadcastHz > 100 {
			return fmt.Errorf("broadcast_hz must be between 1 and 100, got %d", c.Server.BroadcastHz)
		}
	}

	return nil
}
