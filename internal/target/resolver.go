package target

import (
	"runtime"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/Norgate-AV/gobuild/internal/codes"
	"github.com/Norgate-AV/gobuild/internal/compiler"
	"github.com/Norgate-AV/gobuild/internal/config"
)

// Native compilers in the order the go command itself prefers them
var (
	gccFirst   = []string{"gcc", "clang", "cc"}
	clangFirst = []string{"clang", "gcc", "cc"}
)

// Resolver turns a build configuration into a target Spec
type Resolver struct {
	// LookPath searches the given PATH value for an executable
	LookPath func(file, path string) (string, error)
}

// NewResolver creates a resolver that searches the filesystem
func NewResolver() *Resolver {
	return &Resolver{LookPath: compiler.LookPath}
}

// Resolve maps cfg.Target to a Spec. env holds the host inputs (CC variables
// and PATH); the calling process's own environment is not consulted.
func (r *Resolver) Resolve(cfg *config.Config, env map[string]string) (*Spec, error) {
	spec := &Spec{
		Triple: cfg.Target,
		GOOS:   cfg.GOOS,
		GOARCH: cfg.GOARCH,
		CGO:    cfg.CGO,
	}

	// Explicit GOOS and GOARCH make the triple irrelevant
	if spec.GOOS == "" || spec.GOARCH == "" {
		goos, goarch, goarm, err := Parse(cfg.Target)
		if err != nil {
			return nil, err
		}

		if spec.GOOS == "" {
			spec.GOOS = goos
		}

		if spec.GOARCH == "" {
			spec.GOARCH = goarch
			spec.GOARM = goarm
		}
	}

	if !spec.CGO {
		return spec, nil
	}

	if spec.GOARCH == "wasm" {
		return nil, codes.New(codes.ConfigurationError, "cgo is not supported for target %q", cfg.Target)
	}

	cc, prefix, err := r.findCompiler(cfg, spec, env)
	if err != nil {
		return nil, err
	}

	spec.CC = cc
	spec.CCTriple = prefix

	return spec, nil
}

// findCompiler follows the cc crate's variable order, then searches PATH
func (r *Resolver) findCompiler(cfg *config.Config, spec *Spec, env map[string]string) (cc, prefix string, err error) {
	native := isNative(cfg, spec)

	candidates := []string{cfg.CC}
	if cfg.Target != "" {
		candidates = append(candidates,
			env["CC_"+cfg.Target],
			env["CC_"+strings.ReplaceAll(cfg.Target, "-", "_")],
		)
	}

	if native {
		candidates = append(candidates, env["HOST_CC"])
	} else {
		candidates = append(candidates, env["TARGET_CC"])
	}

	candidates = append(candidates, env["CC"])

	for _, c := range candidates {
		if c == "" {
			continue
		}

		words, err := shellquote.Split(c)
		if err != nil || len(words) == 0 {
			return "", "", codes.New(codes.ConfigurationError, "invalid C compiler: %q", c)
		}

		if _, err := r.LookPath(words[0], env["PATH"]); err != nil {
			return "", "", codes.Wrap(codes.ToolchainNotFound, err, "C compiler %q not found", words[0])
		}

		return c, "", nil
	}

	if native {
		search := gccFirst
		if spec.GOOS == "darwin" || spec.GOOS == "ios" || spec.GOOS == "freebsd" || spec.GOOS == "openbsd" {
			search = clangFirst
		}

		for _, name := range search {
			if path, err := r.LookPath(name, env["PATH"]); err == nil {
				return path, "", nil
			}
		}

		return "", "", codes.New(codes.ToolchainNotFound, "no C compiler found on PATH (tried %s); set CC", strings.Join(search, ", "))
	}

	prefixes := crossPrefixes(cfg.Target, spec)
	for _, p := range prefixes {
		for _, suffix := range []string{"-gcc", "-clang"} {
			if path, err := r.LookPath(p+suffix, env["PATH"]); err == nil {
				return path, p, nil
			}
		}
	}

	return "", "", codes.New(codes.ToolchainNotFound,
		"no C compiler found for target %q (tried %s-gcc); set CC_%s or TARGET_CC",
		cfg.Target, strings.Join(prefixes, "-gcc, "), strings.ReplaceAll(cfg.Target, "-", "_"))
}

func isNative(cfg *config.Config, spec *Spec) bool {
	if cfg.Host != "" {
		return cfg.Host == cfg.Target
	}

	return spec.GOOS == runtime.GOOS && spec.GOARCH == runtime.GOARCH
}

// crossPrefixes lists the GNU toolchain prefixes a cross C compiler is
// usually installed under, most specific first.
func crossPrefixes(triple string, spec *Spec) []string {
	var prefixes []string

	comps := strings.Split(triple, "-")
	if len(comps) == 4 && comps[1] == "unknown" {
		// x86_64-unknown-linux-gnu -> x86_64-linux-gnu
		prefixes = append(prefixes, comps[0]+"-"+comps[2]+"-"+comps[3])
	}

	if strings.HasPrefix(comps[0], "armv7") && len(comps) >= 3 {
		// armv7-unknown-linux-gnueabihf -> arm-linux-gnueabihf
		prefixes = append(prefixes, "arm-"+strings.Join(comps[len(comps)-2:], "-"))
	}

	if spec.GOOS == "windows" {
		switch spec.GOARCH {
		case "amd64":
			prefixes = append(prefixes, "x86_64-w64-mingw32")
		case "386":
			prefixes = append(prefixes, "i686-w64-mingw32")
		}
	}

	if len(comps) > 1 {
		prefixes = append(prefixes, triple)
	}

	return prefixes
}
