package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Host environment variables read as configuration, keyed by viper key
var hostEnv = map[string]string{
	"out_dir": "OUT_DIR",
	"target":  "TARGET",
	"host":    "HOST",
	"dir":     "CARGO_MANIFEST_DIR",
	"goflags": "GOBUILD_FLAGS",
}

// Command flags bound to viper keys
var flagKeys = map[string]string{
	"files":    "file",
	"package":  "package",
	"name":     "name",
	"env":      "env",
	"cgo":      "cgo",
	"flags":    "flag",
	"compiler": "compiler",
	"cc":       "cc",
	"goos":     "goos",
	"goarch":   "goarch",
	"ldflags":  "ldflags",
	"trimpath": "trimpath",
	"metadata": "metadata",
	"timeout":  "timeout",
	"dir":      "dir",
	"out_dir":  "out-dir",
	"target":   "target",
	"host":     "host",
	"format":   "format",
	"no_cache": "no-cache",
}

// Loader handles configuration loading from various sources
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadForBuild loads configuration specifically for build operations.
// Positional args are appended to the configured source files.
func (l *Loader) LoadForBuild(cmd *cobra.Command, args []string) (*Config, error) {
	l.setupViperDefaults()
	l.bindHostEnv()
	l.loadGlobalConfig()
	l.bindCommandFlags(cmd)
	l.loadLocalConfig(l.projectDir())

	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	cfg.Files = append(cfg.Files, args...)

	return cfg, nil
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("compiler", DefaultCompiler)
	viper.SetDefault("cgo", DefaultCGO)
	viper.SetDefault("metadata", DefaultMetadata)
	viper.SetDefault("format", DefaultFormat)
	viper.SetDefault("timeout", DefaultTimeout)
}

// bindHostEnv binds the variables a host build system exports
func (l *Loader) bindHostEnv() {
	for key, env := range hostEnv {
		_ = viper.BindEnv(key, env)
	}
}

// loadGlobalConfig loads global configuration from the user config directory
func (l *Loader) loadGlobalConfig() {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return
	}

	globalDir := filepath.Join(configDir, "gobuild")

	for _, ext := range ConfigExts {
		globalPath := filepath.Join(globalDir, "config."+ext)

		if _, err := os.Stat(globalPath); err == nil {
			viper.SetConfigFile(globalPath)

			if err := viper.ReadInConfig(); err == nil {
				break
			}
		}
	}
}

// loadLocalConfig merges the nearest project configuration over the global one
func (l *Loader) loadLocalConfig(dir string) {
	if dir == "" {
		return
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return // silently ignore, Load() will handle validation
	}

	localPath := FindLocalConfig(absDir)
	if localPath != "" {
		viper.SetConfigFile(localPath)
		_ = viper.MergeInConfig()
	}
}

// projectDir is where the local config search starts
func (l *Loader) projectDir() string {
	if dir := viper.GetString("dir"); dir != "" {
		return dir
	}

	wd, err := os.Getwd()
	if err != nil {
		return ""
	}

	return wd
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	for key, name := range flagKeys {
		if flag := cmd.Flags().Lookup(name); flag != nil {
			_ = viper.BindPFlag(key, flag)
		}
	}
}
