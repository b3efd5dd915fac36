// Package target translates host target triples into the Go toolchain's
// GOOS/GOARCH environment and locates the C compiler cgo needs.
package target

import (
	"strings"

	"github.com/Norgate-AV/gobuild/internal/codes"
)

// Spec is the resolved compilation target. It is never mutated after Resolve.
type Spec struct {
	// Triple as given by the host build system
	Triple string

	GOOS   string
	GOARCH string
	GOARM  string

	// CGO reports whether interop is enabled
	CGO bool

	// CC is the C compiler command (may include arguments)
	CC string

	// CCTriple is the toolchain prefix the C compiler was found under, if any
	CCTriple string
}

// Env returns the compiler environment for this target
func (s *Spec) Env() map[string]string {
	env := map[string]string{
		"GOOS":        s.GOOS,
		"GOARCH":      s.GOARCH,
		"CGO_ENABLED": "0",
	}

	if s.GOARM != "" {
		env["GOARM"] = s.GOARM
	}

	if s.CGO {
		env["CGO_ENABLED"] = "1"
		env["CC"] = s.CC
	}

	return env
}

// String renders the target as GOOS/GOARCH
func (s *Spec) String() string {
	return s.GOOS + "/" + s.GOARCH
}

type archInfo struct {
	goarch string
	goarm  string
}

var archTable = map[string]archInfo{
	"x86_64":      {goarch: "amd64"},
	"amd64":       {goarch: "amd64"},
	"x86":         {goarch: "386"},
	"i386":        {goarch: "386"},
	"i586":        {goarch: "386"},
	"i686":        {goarch: "386"},
	"386":         {goarch: "386"},
	"aarch64":     {goarch: "arm64"},
	"arm64":       {goarch: "arm64"},
	"arm64e":      {goarch: "arm64"},
	"arm":         {goarch: "arm", goarm: "6"},
	"armv5te":     {goarch: "arm", goarm: "5"},
	"armv6":       {goarch: "arm", goarm: "6"},
	"armv7":       {goarch: "arm", goarm: "7"},
	"armv7a":      {goarch: "arm", goarm: "7"},
	"thumbv7neon": {goarch: "arm", goarm: "7"},
	"mips":        {goarch: "mips"},
	"mipsel":      {goarch: "mipsle"},
	"mipsle":      {goarch: "mipsle"},
	"mips64":      {goarch: "mips64"},
	"mips64el":    {goarch: "mips64le"},
	"mips64le":    {goarch: "mips64le"},
	"powerpc64":   {goarch: "ppc64"},
	"ppc64":       {goarch: "ppc64"},
	"powerpc64le": {goarch: "ppc64le"},
	"ppc64le":     {goarch: "ppc64le"},
	"riscv64":     {goarch: "riscv64"},
	"riscv64gc":   {goarch: "riscv64"},
	"s390x":       {goarch: "s390x"},
	"loongarch64": {goarch: "loong64"},
	"loong64":     {goarch: "loong64"},
	"wasm32":      {goarch: "wasm"},
	"wasm":        {goarch: "wasm"},
}

// OS rules are checked in order against every triple component after the
// architecture, so android wins over linux and ios over darwin.
var osRules = []struct {
	prefix string
	goos   string
}{
	{"android", "android"},
	{"ios", "ios"},
	{"darwin", "darwin"},
	{"macos", "darwin"},
	{"windows", "windows"},
	{"linux", "linux"},
	{"freebsd", "freebsd"},
	{"netbsd", "netbsd"},
	{"openbsd", "openbsd"},
	{"dragonfly", "dragonfly"},
	{"illumos", "illumos"},
	{"solaris", "solaris"},
	{"wasip1", "wasip1"},
	{"wasi", "wasip1"},
	{"aix", "aix"},
}

// Parse maps a target triple to GOOS, GOARCH and GOARM.
//
// Both Rust-style triples (x86_64-unknown-linux-gnu) and the short
// arch/os form (x86_64/linux, also linux/amd64) are accepted.
func Parse(triple string) (goos, goarch, goarm string, err error) {
	if short := strings.Split(triple, "/"); len(short) == 2 {
		arch, osName := short[0], short[1]
		if lookupOS([]string{arch}) != "" {
			arch, osName = osName, arch
		}

		info, ok := lookupArch(arch)
		goos = lookupOS([]string{osName})
		if !ok || goos == "" {
			return "", "", "", unsupported(triple)
		}

		return goos, info.goarch, info.goarm, nil
	}

	comps := strings.Split(triple, "-")
	if len(comps) < 2 {
		return "", "", "", unsupported(triple)
	}

	info, ok := lookupArch(comps[0])
	if !ok {
		return "", "", "", unsupported(triple)
	}

	goos = lookupOS(comps[1:])
	if goos == "" {
		return "", "", "", unsupported(triple)
	}

	return goos, info.goarch, info.goarm, nil
}

func lookupArch(arch string) (archInfo, bool) {
	if info, ok := archTable[arch]; ok {
		return info, true
	}

	// armv7s, armv7k, thumbv7em...
	for _, prefix := range []string{"armv7", "thumbv7"} {
		if strings.HasPrefix(arch, prefix) {
			return archInfo{goarch: "arm", goarm: "7"}, true
		}
	}

	if strings.HasPrefix(arch, "armv6") {
		return archInfo{goarch: "arm", goarm: "6"}, true
	}

	return archInfo{}, false
}

func lookupOS(comps []string) string {
	for _, rule := range osRules {
		for _, c := range comps {
			if strings.HasPrefix(c, rule.prefix) {
				return rule.goos
			}
		}
	}

	return ""
}

func unsupported(triple string) error {
	return codes.New(codes.ConfigurationError, "unsupported target triple: %q", triple)
}
