package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"claude-auto/internal/logger"
)

// EnvPrefix namespaces the supervisor's own environment variables. It is
// deliberately distinct from the CLAUDE_* variables written for the child.
const EnvPrefix = "CLAUDEAUTO"

// Options are the supervisor's runtime knobs.
type Options struct {
	// Binary is the child executable.
	Binary string `mapstructure:"bin"`

	// Debounce is the minimum interval between two injected responses.
	Debounce time.Duration `mapstructure:"debounce"`

	// PollInterval bounds how long the supervisor waits between steps when
	// no output arrives.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// DrainGrace bounds the wait for pumps after the child exits.
	DrainGrace time.Duration `mapstructure:"drain_grace"`

	// TerminateGrace is how long a cancelled child gets between SIGTERM and SIGKILL.
	TerminateGrace time.Duration `mapstructure:"terminate_grace"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Listen enables the live observer on this address when non-empty.
	Listen string `mapstructure:"listen"`

	// Settings overrides the settings document lookup when non-empty.
	Settings string `mapstructure:"settings"`
}

func setOptionDefaults(v *viper.Viper) {
	v.SetDefault("bin", "claude")
	v.SetDefault("debounce", 100*time.Millisecond)
	v.SetDefault("poll_interval", 10*time.Millisecond)
	v.SetDefault("drain_grace", time.Second)
	v.SetDefault("terminate_grace", 3*time.Second)
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "text")
	v.SetDefault("listen", "")
	v.SetDefault("settings", "")
}

// LoadOptions reads options from CLAUDEAUTO_* environment variables on top
// of the defaults.
func LoadOptions() (*Options, error) {
	v := viper.New()
	setOptionDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{
		"bin", "debounce", "poll_interval", "drain_grace", "terminate_grace",
		"log_level", "log_format", "listen", "settings",
	} {
		_ = v.BindEnv(key)
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("error unmarshaling options: %w", err)
	}

	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("options validation failed: %w", err)
	}
	return &opts, nil
}

func (o *Options) validate() error {
	var errs []string

	if strings.TrimSpace(o.Binary) == "" {
		errs = append(errs, "bin must not be empty")
	}
	if o.Debounce < 0 {
		errs = append(errs, "debounce must not be negative")
	}
	if o.PollInterval <= 0 {
		errs = append(errs, "poll_interval must be positive")
	}
	if o.DrainGrace <= 0 {
		errs = append(errs, "drain_grace must be positive")
	}
	if o.TerminateGrace <= 0 {
		errs = append(errs, "terminate_grace must be positive")
	}
	if !logger.ValidLevel(o.LogLevel) {
		errs = append(errs, "log_level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(o.LogFormat)] {
		errs = append(errs, "log_format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// SettingsPaths returns the settings lookup list honoring the override.
func (o *Options) SettingsPaths() []string {
	if o.Settings != "" {
		return []string{o.Settings}
	}
	return DefaultSettingsPaths()
}
