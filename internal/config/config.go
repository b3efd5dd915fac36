package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/viper"

	"github.com/Norgate-AV/gobuild/internal/codes"
)

// Default configuration values
const (
	DefaultCompiler = "go"
	DefaultFormat   = FormatCargo
	DefaultCGO      = true
	DefaultMetadata = true
	DefaultTimeout  = time.Duration(0)
)

// Directive output formats
const (
	FormatCargo = "cargo"
	FormatPlain = "plain"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// Config holds every option of one archive build.
// It is treated as immutable once handed to the build engine.
type Config struct {
	// Source files or glob patterns, in the order passed to the compiler
	Files []string

	// Package import path or directory, used instead of Files
	Package string

	// Output base name: produces lib<Name>.a and <Name>.h
	Name string

	// Environment variable overrides for the compiler process
	Env map[string]string

	// Enable cgo (required for a C archive)
	CGO bool

	// Extra `go build` flags
	Flags []string

	// Path or name of the go binary
	Compiler string

	// C compiler override
	CC string

	// Explicit GOOS/GOARCH, overriding the target triple mapping
	GOOS   string
	GOARCH string

	// Value for -ldflags
	LDFlags string

	// Pass -trimpath
	TrimPath bool

	// Emit host build system directives
	Metadata bool

	// Compiler timeout; zero disables it
	Timeout time.Duration

	// Directory relative source paths resolve against
	Dir string

	// Output directory for the archive, header and manifest
	OutDir string

	// Target and host triples
	Target string
	Host   string

	// Directive format: cargo or plain
	Format string

	// Skip the cache lookup (the result is still stored)
	NoCache bool
}

// Load builds a Config from the global viper state
func Load() (*Config, error) {
	flags, err := stringList(viper.Get("flags"))
	if err != nil {
		return nil, codes.Wrap(codes.ConfigurationError, err, "invalid flags")
	}

	env, err := envMap(viper.Get("env"))
	if err != nil {
		return nil, codes.Wrap(codes.ConfigurationError, err, "invalid env")
	}

	extra, err := shellquote.Split(viper.GetString("goflags"))
	if err != nil {
		return nil, codes.Wrap(codes.ConfigurationError, err, "invalid GOBUILD_FLAGS")
	}

	cfg := &Config{
		Files:    viper.GetStringSlice("files"),
		Package:  viper.GetString("package"),
		Name:     viper.GetString("name"),
		Env:      env,
		CGO:      viper.GetBool("cgo"),
		Flags:    append(flags, extra...),
		Compiler: viper.GetString("compiler"),
		CC:       viper.GetString("cc"),
		GOOS:     viper.GetString("goos"),
		GOARCH:   viper.GetString("goarch"),
		LDFlags:  viper.GetString("ldflags"),
		TrimPath: viper.GetBool("trimpath"),
		Metadata: viper.GetBool("metadata"),
		Timeout:  viper.GetDuration("timeout"),
		Dir:      viper.GetString("dir"),
		OutDir:   viper.GetString("out_dir"),
		Target:   viper.GetString("target"),
		Host:     viper.GetString("host"),
		Format:   viper.GetString("format"),
		NoCache:  viper.GetBool("no_cache"),
	}

	// Apply defaults if not set
	if cfg.Compiler == "" {
		cfg.Compiler = DefaultCompiler
	}

	if cfg.Format == "" {
		cfg.Format = DefaultFormat
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration and resolves paths to absolute ones
func (c *Config) Validate() error {
	if c.Name == "" {
		return codes.New(codes.ConfigurationError, "output name not specified")
	}

	if !validName.MatchString(c.Name) {
		return codes.New(codes.ConfigurationError, "invalid output name: %q", c.Name)
	}

	if c.OutDir == "" {
		return codes.New(codes.ConfigurationError, "output directory not specified (set OUT_DIR or --out-dir)")
	}

	abs, err := filepath.Abs(c.OutDir)
	if err != nil {
		return codes.Wrap(codes.ConfigurationError, err, "invalid output directory")
	}

	c.OutDir = abs

	if c.Dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return codes.Wrap(codes.IOError, err, "failed to get working directory")
		}

		c.Dir = wd
	}

	if abs, err := filepath.Abs(c.Dir); err == nil {
		c.Dir = abs
	}

	// A compiler given as a path runs from Dir, so pin it to where it was named
	if strings.ContainsRune(c.Compiler, '/') || strings.ContainsRune(c.Compiler, filepath.Separator) {
		abs, err := filepath.Abs(c.Compiler)
		if err != nil {
			return codes.Wrap(codes.ConfigurationError, err, "invalid compiler path")
		}

		c.Compiler = abs
	}

	if c.Format != FormatCargo && c.Format != FormatPlain {
		return codes.New(codes.ConfigurationError, "invalid directive format: %s", c.Format)
	}

	if c.Timeout < 0 {
		return codes.New(codes.ConfigurationError, "invalid timeout: %s", c.Timeout)
	}

	// Fall back to the host, then to the running platform
	if c.Target == "" {
		c.Target = c.Host
	}

	if c.Target == "" {
		c.Target = runtime.GOARCH + "/" + runtime.GOOS
	}

	return nil
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	out := *c
	out.Files = slices.Clone(c.Files)
	out.Flags = slices.Clone(c.Flags)
	out.Env = maps.Clone(c.Env)

	return &out
}

// stringList accepts either a list or a shell-quoted string
func stringList(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return shellquote.Split(val)
	case []string:
		return slices.Clone(val), nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprint(item))
		}

		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// envMap accepts KEY=VALUE entries or a mapping. Viper lowercases mapping
// keys, so those are restored to upper case.
func envMap(v any) (map[string]string, error) {
	env := make(map[string]string)

	switch val := v.(type) {
	case nil:
	case map[string]any:
		for k, item := range val {
			env[strings.ToUpper(k)] = fmt.Sprint(item)
		}
	case map[string]string:
		for k, item := range val {
			env[strings.ToUpper(k)] = item
		}
	default:
		entries, err := stringList(v)
		if err != nil {
			return nil, err
		}

		for _, entry := range entries {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("expected KEY=VALUE, got %q", entry)
			}

			env[key] = value
		}
	}

	return env, nil
}
