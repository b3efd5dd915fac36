// Package emit turns a build result into the directives a host build system
// reads from a build script's standard output.
package emit

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/Norgate-AV/gobuild/internal/cache"
	"github.com/Norgate-AV/gobuild/internal/config"
)

// Kind is the type of a directive
type Kind int

const (
	RerunIfChanged Kind = iota
	LinkSearch
	LinkLib
	Include
	Header
	Warning
)

var kindNames = map[Kind]string{
	RerunIfChanged: "rerun-if-changed",
	LinkSearch:     "link-search",
	LinkLib:        "link-lib",
	Include:        "include",
	Header:         "header",
	Warning:        "warning",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Directive is one instruction to the host build system
type Directive struct {
	Kind  Kind
	Value string
}

// Directives returns the directives for an artifact, in emission order:
// one rerun per source, the link search path, the static library, the
// include directory, the header, then one warning per non-empty line of
// compiler diagnostics.
func Directives(art *cache.Artifact, sources []string, diagnostics string) []Directive {
	out := make([]Directive, 0, len(sources)+4)

	for _, src := range sources {
		out = append(out, Directive{Kind: RerunIfChanged, Value: src})
	}

	out = append(out,
		Directive{Kind: LinkSearch, Value: art.Dir},
		Directive{Kind: LinkLib, Value: art.Name},
		Directive{Kind: Include, Value: art.Dir},
		Directive{Kind: Header, Value: art.Header},
	)

	scanner := bufio.NewScanner(strings.NewReader(diagnostics))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) != "" {
			out = append(out, Directive{Kind: Warning, Value: line})
		}
	}

	return out
}

// Format renders one directive in the given format
func Format(format string, d Directive) string {
	if format == config.FormatPlain {
		return formatPlain(d)
	}

	return formatCargo(d)
}

func formatCargo(d Directive) string {
	switch d.Kind {
	case RerunIfChanged:
		return "cargo:rerun-if-changed=" + d.Value
	case LinkSearch:
		return "cargo:rustc-link-search=native=" + d.Value
	case LinkLib:
		return "cargo:rustc-link-lib=static=" + d.Value
	case Include:
		return "cargo:include=" + d.Value
	case Header:
		return "cargo:header=" + d.Value
	default:
		return "cargo:warning=" + d.Value
	}
}

func formatPlain(d Directive) string {
	switch d.Kind {
	case RerunIfChanged:
		return "rerun " + d.Value
	case LinkSearch:
		return "search " + d.Value
	case LinkLib:
		return "link " + d.Value
	case Include:
		return "include " + d.Value
	case Header:
		return "header " + d.Value
	default:
		return "warning " + d.Value
	}
}

// Write prints directives to w, one per line
func Write(w io.Writer, format string, directives []Directive) error {
	bw := bufio.NewWriter(w)

	for _, d := range directives {
		if _, err := bw.WriteString(Format(format, d) + "\n"); err != nil {
			return err
		}
	}

	return bw.Flush()
}
