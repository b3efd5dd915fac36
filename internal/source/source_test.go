package source

import (
	"context"
	"maps"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/gobuild/internal/codes"
	"github.com/Norgate-AV/gobuild/internal/config"
	"github.com/Norgate-AV/gobuild/internal/target"
)

const helloSource = `package main

import "C"

//export hello
func hello() {}

func main() {}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newModule creates a module with a main package at its root
func newModule(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "go.mod"), "module example.com/hello\n\ngo 1.25\n")
	writeFile(t, filepath.Join(dir, "hello.go"), helloSource)

	return dir
}

func TestBuild_Files(t *testing.T) {
	dir := newModule(t)
	writeFile(t, filepath.Join(dir, "util.go"), "package main\n")

	set, err := Build(&config.Config{Dir: dir, Files: []string{"util.go", "hello.go", "./util.go"}})
	require.NoError(t, err)

	// Compiler order is kept and duplicates dropped
	assert.Equal(t, []string{
		filepath.Join(dir, "util.go"),
		filepath.Join(dir, "hello.go"),
	}, set.Files)
	assert.Equal(t, set.Files, set.Args())
	assert.Equal(t, dir, set.ModuleRoot)
	assert.Equal(t, "example.com/hello", set.ModulePath)
	assert.Equal(t, []string{filepath.Join(dir, "go.mod")}, set.ModuleFiles)
	assert.Equal(t, []string{
		filepath.Join(dir, "go.mod"),
		filepath.Join(dir, "hello.go"),
		filepath.Join(dir, "util.go"),
	}, set.Inputs())
}

func TestBuild_Glob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.go"), "package main\n")
	writeFile(t, filepath.Join(dir, "a.go"), "package main\n")
	writeFile(t, filepath.Join(dir, "sub", "c.go"), "package main\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "")

	set, err := Build(&config.Config{Dir: dir, Files: []string{"**/*.go"}})
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "a.go"),
		filepath.Join(dir, "b.go"),
		filepath.Join(dir, "sub", "c.go"),
	}, set.Files)
	assert.Empty(t, set.ModuleRoot)
	assert.Empty(t, set.ModuleFiles)
}

func TestBuild_Errors(t *testing.T) {
	dir := newModule(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "adir"), 0o755))

	tests := []struct {
		name        string
		cfg         *config.Config
		errContains []string
		details     int
	}{
		{
			name:        "nothing to build",
			cfg:         &config.Config{Dir: dir},
			errContains: []string{"no source files or package specified"},
		},
		{
			name:        "files and package",
			cfg:         &config.Config{Dir: dir, Files: []string{"hello.go"}, Package: "."},
			errContains: []string{"mutually exclusive"},
		},
		{
			name:    "every missing file is reported",
			cfg:     &config.Config{Dir: dir, Files: []string{"missing1.go", "hello.go", "missing2.go"}},
			details: 2,
			errContains: []string{
				filepath.Join(dir, "missing1.go") + ": no such file",
				filepath.Join(dir, "missing2.go") + ": no such file",
			},
		},
		{
			name:        "directory given as file",
			cfg:         &config.Config{Dir: dir, Files: []string{"adir"}},
			details:     1,
			errContains: []string{"is a directory"},
		},
		{
			name:        "glob matches nothing",
			cfg:         &config.Config{Dir: dir, Files: []string{"*.rs"}},
			details:     1,
			errContains: []string{"*.rs: no files match"},
		},
		{
			name:        "package directory missing",
			cfg:         &config.Config{Dir: dir, Package: "./nope"},
			details:     1,
			errContains: []string{"no such package directory"},
		},
		{
			name:        "package directory without go files",
			cfg:         &config.Config{Dir: dir, Package: "./adir"},
			details:     1,
			errContains: []string{"no Go files"},
		},
		{
			name:        "malformed import path",
			cfg:         &config.Config{Dir: dir, Package: "example.com/bad path"},
			details:     1,
			errContains: []string{"invalid package"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := Build(tt.cfg)

			require.Error(t, err)
			assert.Nil(t, set)
			assert.True(t, codes.Is(err, codes.ConfigurationError))

			for _, s := range tt.errContains {
				assert.Contains(t, err.Error(), s)
			}

			if tt.details > 0 {
				var e *codes.Error
				require.ErrorAs(t, err, &e)
				assert.Len(t, e.Details, tt.details)
			}
		})
	}
}

func TestBuild_Package(t *testing.T) {
	dir := newModule(t)
	writeFile(t, filepath.Join(dir, "ffi", "ffi.go"), "package main\n")
	writeFile(t, filepath.Join(dir, "ffi", "ffi.h"), "")
	writeFile(t, filepath.Join(dir, "ffi", "README.md"), "")
	writeFile(t, filepath.Join(dir, "ffi", "ffi_test.go"), "package main\n")
	writeFile(t, filepath.Join(dir, "go.sum"), "")

	t.Run("relative directory", func(t *testing.T) {
		set, err := Build(&config.Config{Dir: dir, Package: "./ffi"})
		require.NoError(t, err)

		assert.Equal(t, []string{"./ffi"}, set.Args())
		assert.Equal(t, []string{
			filepath.Join(dir, "ffi", "ffi.go"),
			filepath.Join(dir, "ffi", "ffi.h"),
			filepath.Join(dir, "ffi", "ffi_test.go"),
		}, set.Sources())
		assert.Equal(t, []string{
			filepath.Join(dir, "go.mod"),
			filepath.Join(dir, "go.sum"),
		}, set.ModuleFiles)
	})

	t.Run("current directory", func(t *testing.T) {
		set, err := Build(&config.Config{Dir: dir, Package: "."})
		require.NoError(t, err)

		assert.Equal(t, []string{"."}, set.Args())
		assert.Equal(t, []string{filepath.Join(dir, "hello.go")}, set.Sources())
	})

	t.Run("import path inside the module", func(t *testing.T) {
		set, err := Build(&config.Config{Dir: dir, Package: "example.com/hello/ffi"})
		require.NoError(t, err)

		assert.Equal(t, []string{"example.com/hello/ffi"}, set.Args())
		assert.Len(t, set.Sources(), 3)
	})

	t.Run("import path outside the module", func(t *testing.T) {
		set, err := Build(&config.Config{Dir: dir, Package: "example.org/other/pkg"})
		require.NoError(t, err)

		assert.Equal(t, []string{"example.org/other/pkg"}, set.Args())
		assert.Empty(t, set.Sources())

		// go.mod, go.sum and every file of the module
		assert.Len(t, set.Inputs(), 6)
	})
}

func TestFingerprint(t *testing.T) {
	dir := newModule(t)
	hello := filepath.Join(dir, "hello.go")

	spec := &target.Spec{Triple: "x86_64-unknown-linux-gnu", GOOS: "linux", GOARCH: "amd64"}
	base := &config.Config{Name: "hello", Dir: dir, Files: []string{"hello.go"}, Compiler: "go"}

	fingerprint := func(t *testing.T, cfg *config.Config, spec *target.Spec, version string) string {
		t.Helper()

		set, err := Build(cfg)
		require.NoError(t, err)

		fp, err := set.Fingerprint(context.Background(), cfg, spec, cfg.Env, version)
		require.NoError(t, err)
		assert.Len(t, fp, 64)

		return fp
	}

	original := fingerprint(t, base, spec, "go version go1.25.2 linux/amd64")

	t.Run("stable for identical inputs", func(t *testing.T) {
		assert.Equal(t, original, fingerprint(t, base, spec, "go version go1.25.2 linux/amd64"))
	})

	t.Run("output-only settings are ignored", func(t *testing.T) {
		cfg := base.Clone()
		cfg.Format = config.FormatPlain
		cfg.NoCache = true
		cfg.Metadata = false

		assert.Equal(t, original, fingerprint(t, cfg, spec, "go version go1.25.2 linux/amd64"))
	})

	t.Run("toolchain version", func(t *testing.T) {
		assert.NotEqual(t, original, fingerprint(t, base, spec, "go version go1.25.3 linux/amd64"))
	})

	t.Run("target", func(t *testing.T) {
		other := *spec
		other.GOARCH = "arm64"
		assert.NotEqual(t, original, fingerprint(t, base, &other, "go version go1.25.2 linux/amd64"))
	})

	t.Run("config fields", func(t *testing.T) {
		mutations := map[string]func(*config.Config){
			"flags":    func(c *config.Config) { c.Flags = []string{"-race"} },
			"env":      func(c *config.Config) { c.Env = map[string]string{"GOAMD64": "v3"} },
			"ldflags":  func(c *config.Config) { c.LDFlags = "-s -w" },
			"trimpath": func(c *config.Config) { c.TrimPath = true },
			"name":     func(c *config.Config) { c.Name = "other" },
		}

		for name, mutate := range mutations {
			t.Run(name, func(t *testing.T) {
				cfg := base.Clone()
				mutate(cfg)
				assert.NotEqual(t, original, fingerprint(t, cfg, spec, "go version go1.25.2 linux/amd64"))
			})
		}
	})

	t.Run("source content", func(t *testing.T) {
		writeFile(t, hello, helloSource+"// changed\n")
		defer writeFile(t, hello, helloSource)

		assert.NotEqual(t, original, fingerprint(t, base, spec, "go version go1.25.2 linux/amd64"))
	})

	t.Run("configured file order is ignored", func(t *testing.T) {
		writeFile(t, filepath.Join(dir, "util.go"), "package main\n")
		defer os.Remove(filepath.Join(dir, "util.go"))

		forward := base.Clone()
		forward.Files = []string{"hello.go", "util.go"}

		backward := base.Clone()
		backward.Files = []string{"util.go", "hello.go"}

		assert.Equal(t,
			fingerprint(t, forward, spec, "go version go1.25.2 linux/amd64"),
			fingerprint(t, backward, spec, "go version go1.25.2 linux/amd64"))
	})

	t.Run("imported package of the module", func(t *testing.T) {
		util := filepath.Join(dir, "util", "util.go")
		writeFile(t, util, "package util\n")
		defer os.RemoveAll(filepath.Join(dir, "util"))

		before := fingerprint(t, base, spec, "go version go1.25.2 linux/amd64")
		writeFile(t, util, "package util\n\nconst V = 2\n")

		assert.NotEqual(t, before, fingerprint(t, base, spec, "go version go1.25.2 linux/amd64"))
	})

	t.Run("go.mod content", func(t *testing.T) {
		gomod := filepath.Join(dir, "go.mod")
		writeFile(t, gomod, "module example.com/hello\n\ngo 1.24\n")
		defer writeFile(t, gomod, "module example.com/hello\n\ngo 1.25\n")

		assert.NotEqual(t, original, fingerprint(t, base, spec, "go version go1.25.2 linux/amd64"))
	})
}

func TestFingerprint_Env(t *testing.T) {
	dir := newModule(t)
	spec := &target.Spec{Triple: "x86_64-unknown-linux-gnu", GOOS: "linux", GOARCH: "amd64"}
	cfg := &config.Config{Name: "hello", Dir: dir, Files: []string{"hello.go"}, Compiler: "go"}

	set, err := Build(cfg)
	require.NoError(t, err)

	fingerprint := func(env map[string]string) string {
		fp, err := set.Fingerprint(context.Background(), cfg, spec, env, "go version go1.25.2 linux/amd64")
		require.NoError(t, err)

		return fp
	}

	base := map[string]string{"GOFLAGS": "-tags=v1", "GOAMD64": "v1", "PATH": "/usr/bin"}
	original := fingerprint(base)

	changed := map[string]map[string]string{
		"GOFLAGS":      {"GOFLAGS": "-tags=v2"},
		"GOAMD64":      {"GOAMD64": "v3"},
		"GOEXPERIMENT": {"GOEXPERIMENT": "arenas"},
		"GOTOOLCHAIN":  {"GOTOOLCHAIN": "go1.26.0"},
		"CGO_CFLAGS":   {"CGO_CFLAGS": "-O3"},
		"CXX":          {"CXX": "clang++"},
		"PKG_CONFIG":   {"PKG_CONFIG_PATH": "/opt/lib/pkgconfig"},
	}

	for name, overrides := range changed {
		t.Run(name, func(t *testing.T) {
			env := maps.Clone(base)
			maps.Copy(env, overrides)
			assert.NotEqual(t, original, fingerprint(env))
		})
	}

	ignored := map[string]map[string]string{
		"PATH":    {"PATH": "/opt/bin:/usr/bin"},
		"HOME":    {"HOME": "/home/other"},
		"GOCACHE": {"GOCACHE": "/tmp/cache"},
		"GOPROXY": {"GOPROXY": "direct"},
	}

	for name, overrides := range ignored {
		t.Run(name+" is ignored", func(t *testing.T) {
			env := maps.Clone(base)
			maps.Copy(env, overrides)
			assert.Equal(t, original, fingerprint(env))
		})
	}
}

func TestBuildEnv(t *testing.T) {
	env := BuildEnv(map[string]string{
		"GOOS":            "linux",
		"CGO_ENABLED":     "1",
		"CC":              "gcc",
		"PKG_CONFIG_PATH": "/lib",
		"GOMODCACHE":      "/tmp/mod",
		"PATH":            "/usr/bin",
		"TERM":            "xterm",
	})

	assert.Equal(t, map[string]string{
		"GOOS":            "linux",
		"CGO_ENABLED":     "1",
		"CC":              "gcc",
		"PKG_CONFIG_PATH": "/lib",
	}, env)
}

func TestBuild_ModuleSources(t *testing.T) {
	dir := newModule(t)
	out := filepath.Join(dir, "target", "out")

	writeFile(t, filepath.Join(dir, "util", "util.go"), "package util\n")
	writeFile(t, filepath.Join(dir, "util", "util.h"), "")
	writeFile(t, filepath.Join(dir, "util", "notes.md"), "")
	writeFile(t, filepath.Join(dir, "util", "testdata", "fixture.go"), "package fixture\n")
	writeFile(t, filepath.Join(dir, "_scratch", "old.go"), "package old\n")
	writeFile(t, filepath.Join(dir, ".git", "hook.go"), "package hook\n")
	writeFile(t, filepath.Join(dir, "tools", "go.mod"), "module example.com/tools\n")
	writeFile(t, filepath.Join(dir, "tools", "tools.go"), "package tools\n")
	writeFile(t, filepath.Join(dir, "target", "CACHEDIR.TAG"), "Signature: 8a477f597d28d172789f06886806bc55\n")
	writeFile(t, filepath.Join(dir, "target", "gen.go"), "package gen\n")
	writeFile(t, filepath.Join(out, "hello.h"), "")

	set, err := Build(&config.Config{Dir: dir, Files: []string{"hello.go"}, OutDir: out})
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "hello.go"),
		filepath.Join(dir, "util", "util.go"),
		filepath.Join(dir, "util", "util.h"),
	}, set.ModuleSources)
}

func TestSet_Identity(t *testing.T) {
	dir := newModule(t)
	writeFile(t, filepath.Join(dir, "util.go"), "package main\n")
	writeFile(t, filepath.Join(dir, "ffi", "ffi.go"), "package main\n")

	forward, err := Build(&config.Config{Dir: dir, Files: []string{"hello.go", "util.go"}})
	require.NoError(t, err)

	backward, err := Build(&config.Config{Dir: dir, Files: []string{"util.go", "hello.go"}})
	require.NoError(t, err)

	assert.Equal(t, forward.Identity(), backward.Identity())

	local, err := Build(&config.Config{Dir: dir, Package: "./ffi"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "ffi")}, local.Identity())

	imported, err := Build(&config.Config{Dir: dir, Package: "example.com/hello/ffi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com/hello/ffi"}, imported.Identity())
}

func TestFingerprint_Canceled(t *testing.T) {
	dir := newModule(t)
	cfg := &config.Config{Name: "hello", Dir: dir, Files: []string{"hello.go"}}

	set, err := Build(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = set.Fingerprint(ctx, cfg, &target.Spec{}, nil, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	writeFile(t, path, "")

	digest, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", digest)

	_, err = HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
