//go:build unix

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/gobuild/internal/cache"
	"github.com/Norgate-AV/gobuild/internal/codes"
)

// fakeGo answers `go version` and writes the two c-archive outputs
const fakeGo = `#!/bin/sh
if [ "$1" = "version" ]; then
	echo "go version go1.25.2 linux/amd64"
	exit 0
fi

out=""
while [ $# -gt 0 ]; do
	case "$1" in
	-o) out="$2"; shift 2 ;;
	*) shift ;;
	esac
done

if [ -n "$FAKE_FAIL" ]; then
	echo "./hello.go:3:2: undefined: foo" >&2
	exit 1
fi

echo "# example.com/hello" >&2
printf '!<arch>\n' > "$out"
printf '/* header */\n' > "${out%.a}.h"
`

type project struct {
	dir      string
	out      string
	compiler string
}

func newProject(t *testing.T) *project {
	t.Helper()

	// Keep user and project config files out of the test
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home)

	p := &project{
		dir:      t.TempDir(),
		out:      t.TempDir(),
		compiler: filepath.Join(t.TempDir(), "go"),
	}

	require.NoError(t, os.WriteFile(p.compiler, []byte(fakeGo), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.dir, "hello.go"), []byte("package main\n\nimport \"C\"\n\nfunc main() {}\n"), 0o644))

	return p
}

func (p *project) buildArgs(extra ...string) []string {
	return append([]string{
		"build",
		"--quiet",
		"--name", "hello",
		"--dir", p.dir,
		"--out-dir", p.out,
		"--compiler", p.compiler,
		"--target", "x86_64-unknown-linux-gnu",
		"--cgo=false",
	}, extra...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)

	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		flagQuiet = false
	})

	err := rootCmd.Execute()

	return stdout.String(), err
}

func TestBuildCommand(t *testing.T) {
	captureMsg(t)
	p := newProject(t)

	stdout, err := execute(t, p.buildArgs("hello.go")...)
	require.NoError(t, err)

	src := filepath.Join(p.dir, "hello.go")
	want := "cargo:rerun-if-changed=" + src + "\n" +
		"cargo:rustc-link-search=native=" + p.out + "\n" +
		"cargo:rustc-link-lib=static=hello\n" +
		"cargo:include=" + p.out + "\n" +
		"cargo:header=" + filepath.Join(p.out, "hello.h") + "\n" +
		"cargo:warning=# example.com/hello\n"
	assert.Equal(t, want, stdout)

	assert.FileExists(t, filepath.Join(p.out, "libhello.a"))
	assert.FileExists(t, filepath.Join(p.out, "hello.h"))

	// Unchanged: served from the cache, so no compiler warnings

	stdout, err = execute(t, p.buildArgs("hello.go")...)
	require.NoError(t, err)
	assert.NotContains(t, stdout, "cargo:warning")
	assert.Contains(t, stdout, "cargo:rustc-link-lib=static=hello\n")

	stdout, err = execute(t, "cache", "stats", "--out-dir", p.out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "hello\tlinux/amd64\t")
	assert.Contains(t, stdout, "1 entries")

	_, err = execute(t, "--quiet", "cache", "clear", "--out-dir", p.out)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(p.out, "libhello.a"))
	assert.NoFileExists(t, filepath.Join(p.out, cache.ManifestFile))
}

func TestBuildCommand_PlainFormat(t *testing.T) {
	captureMsg(t)
	p := newProject(t)

	stdout, err := execute(t, p.buildArgs("--format", "plain", "hello.go")...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "link hello\n")
	assert.Contains(t, stdout, "header "+filepath.Join(p.out, "hello.h")+"\n")

	// Reset the shared flag for later tests
	require.NoError(t, flagFormat.Set("cargo"))
}

func TestBuildCommand_CompileError(t *testing.T) {
	captureMsg(t)
	p := newProject(t)
	t.Setenv("FAKE_FAIL", "1")

	stdout, err := execute(t, p.buildArgs("hello.go")...)
	require.Error(t, err)
	assert.Empty(t, stdout)

	var cerr *codes.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, codes.CompilationFailed, cerr.Kind)
	assert.Equal(t, "./hello.go:3:2: undefined: foo\n", cerr.Stderr)
}

func TestBuildCommand_MissingSources(t *testing.T) {
	captureMsg(t)
	p := newProject(t)

	_, err := execute(t, p.buildArgs("hello.go", "missing.go")...)
	require.Error(t, err)
	assert.True(t, codes.Is(err, codes.ConfigurationError))
	assert.Contains(t, err.Error(), "missing.go")
}
