package emit

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/gobuild/internal/cache"
	"github.com/Norgate-AV/gobuild/internal/config"
)

var helloArtifact = &cache.Artifact{
	Name:    "hello",
	Dir:     "/out",
	Archive: "/out/libhello.a",
	Header:  "/out/hello.h",
}

const diagnostics = "# example.com/hello\r\n./hello.go:7:2: x declared and not used (vet)\n\n   \n"

func render(t *testing.T, format string, directives []Directive) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, format, directives))

	return buf.Bytes()
}

func TestWrite_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	directives := Directives(helloArtifact, []string{"/src/hello.go", "/src/util.go"}, diagnostics)

	g.Assert(t, "cargo", render(t, config.FormatCargo, directives))
	g.Assert(t, "plain", render(t, config.FormatPlain, directives))

	hit := Directives(helloArtifact, []string{"/src/hello.go"}, "")
	g.Assert(t, "cargo_cache_hit", render(t, config.FormatCargo, hit))
}

func TestDirectives_Order(t *testing.T) {
	directives := Directives(helloArtifact, []string{"/src/a.go"}, "warn\n")

	var kinds []Kind
	for _, d := range directives {
		kinds = append(kinds, d.Kind)
	}

	assert.Equal(t, []Kind{RerunIfChanged, LinkSearch, LinkLib, Include, Header, Warning}, kinds)
}

func TestDirectives_NoSources(t *testing.T) {
	directives := Directives(helloArtifact, nil, "")

	require.Len(t, directives, 4)
	assert.Equal(t, Directive{Kind: LinkSearch, Value: "/out"}, directives[0])
	assert.Equal(t, Directive{Kind: LinkLib, Value: "hello"}, directives[1])
}

func TestFormat(t *testing.T) {
	tests := []struct {
		format string
		d      Directive
		want   string
	}{
		{config.FormatCargo, Directive{LinkSearch, "/out dir"}, "cargo:rustc-link-search=native=/out dir"},
		{config.FormatCargo, Directive{LinkLib, "ffi"}, "cargo:rustc-link-lib=static=ffi"},
		{config.FormatCargo, Directive{Warning, "careful"}, "cargo:warning=careful"},
		{config.FormatPlain, Directive{LinkLib, "ffi"}, "link ffi"},
		{config.FormatPlain, Directive{RerunIfChanged, "a.go"}, "rerun a.go"},
		{"", Directive{Header, "/out/ffi.h"}, "cargo:header=/out/ffi.h"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.format, tt.d))
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "link-lib", LinkLib.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("closed")
}

func TestWrite_Error(t *testing.T) {
	err := Write(failingWriter{}, config.FormatCargo, Directives(helloArtifact, nil, ""))
	assert.Error(t, err)
}
