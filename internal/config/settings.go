// Package config loads the shared automation settings file and the
// supervisor's runtime options.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// SettingsFile is the settings document name inside a .claude directory.
const SettingsFile = "settings.json"

// Settings mirrors the parts of the settings document the tools consume.
// Missing keys keep their defaults.
type Settings struct {
	Automation AutomationSettings `mapstructure:"automation"`
	N8N        N8NSettings        `mapstructure:"n8n"`
}

// AutomationSettings holds the automation block.
type AutomationSettings struct {
	Docker DockerSettings `mapstructure:"docker"`

	// AutoSave enables editor save commands in the autosave daemon.
	AutoSave bool `mapstructure:"auto_save"`

	// SaveDelay is the minimum number of seconds between two saves of one file.
	SaveDelay float64 `mapstructure:"save_delay"`

	// YoloMode disables the per-file save throttle.
	YoloMode bool `mapstructure:"yolo_mode"`
}

// DockerSettings gates the container-automation pattern block.
type DockerSettings struct {
	Enabled  bool     `mapstructure:"enabled"`
	Patterns []string `mapstructure:"patterns"`
}

// N8NSettings gates the workflow-automation pattern block.
type N8NSettings struct {
	AutoApprove bool `mapstructure:"auto_approve"`
}

// DefaultSettings returns the settings used when no document can be read.
func DefaultSettings() Settings {
	return Settings{
		Automation: AutomationSettings{
			AutoSave:  true,
			SaveDelay: 1.0,
		},
	}
}

func setSettingsDefaults(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault("automation.docker.enabled", false)
	v.SetDefault("automation.docker.patterns", []string{})
	v.SetDefault("automation.auto_save", d.Automation.AutoSave)
	v.SetDefault("automation.save_delay", d.Automation.SaveDelay)
	v.SetDefault("automation.yolo_mode", false)
	v.SetDefault("n8n.auto_approve", false)
}

// DefaultSettingsPaths returns the well-known settings locations in lookup
// order: the user's home directory first, then the working directory.
func DefaultSettingsPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".claude", SettingsFile))
	}
	return append(paths, filepath.Join(".claude", SettingsFile))
}

// LoadSettings reads the first settings document that exists among paths
// (DefaultSettingsPaths when none are given). It never fails: a missing,
// unreadable or malformed document yields DefaultSettings. A document that
// exists but cannot be parsed does not fall through to later paths.
func LoadSettings(paths ...string) Settings {
	if len(paths) == 0 {
		paths = DefaultSettingsPaths()
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		s, ok := readSettings(path)
		if !ok {
			return DefaultSettings()
		}
		return s
	}
	return DefaultSettings()
}

func readSettings(path string) (Settings, bool) {
	v := viper.New()
	setSettingsDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return Settings{}, false
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, false
	}
	return s, true
}
