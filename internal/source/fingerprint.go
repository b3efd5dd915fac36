package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"maps"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Norgate-AV/gobuild/internal/codes"
	"github.com/Norgate-AV/gobuild/internal/config"
	"github.com/Norgate-AV/gobuild/internal/target"
)

// FingerprintDomain separates build fingerprints from any other sha256 use
const FingerprintDomain = "gobuild/fingerprint/v1"

// Fingerprint identifies the output of one build. Two builds with equal
// fingerprints produce interchangeable artifacts.
//
// Inputs are folded in sorted path order, followed by every configuration
// field that changes the compiler invocation, the build variables of the
// compiler environment env, the target and the full toolchain version
// string. Output-only settings (directive format, timeout, cache bypass)
// are excluded, and so is the order sources were configured in.
func (s *Set) Fingerprint(ctx context.Context, cfg *config.Config, spec *target.Spec, env map[string]string, toolchain string) (string, error) {
	inputs := s.Inputs()

	digests, err := hashFiles(ctx, inputs)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(FingerprintDomain))
	h.Write([]byte{0x00})

	for i, path := range inputs {
		field(h, "input", path, digests[i])
	}

	field(h, "args", slices.Sorted(slices.Values(s.Args()))...)
	field(h, "name", cfg.Name)
	field(h, "flags", cfg.Flags...)
	field(h, "ldflags", cfg.LDFlags)
	field(h, "trimpath", strconv.FormatBool(cfg.TrimPath))
	field(h, "compiler", cfg.Compiler)

	build := BuildEnv(env)
	for _, key := range slices.Sorted(maps.Keys(build)) {
		field(h, "env", key, build[key])
	}

	field(h, "target", spec.Triple, spec.GOOS, spec.GOARCH, spec.GOARM)
	field(h, "cgo", strconv.FormatBool(spec.CGO), spec.CC)
	field(h, "toolchain", toolchain)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Variables that only move caches around or control module downloads,
// whose content go.sum already pins
var ignoredEnv = map[string]bool{
	"GOCACHE":        true,
	"GOMODCACHE":     true,
	"GOTMPDIR":       true,
	"GOTELEMETRY":    true,
	"GOTELEMETRYDIR": true,
	"GOPROXY":        true,
	"GONOPROXY":      true,
	"GOSUMDB":        true,
	"GONOSUMDB":      true,
	"GOPRIVATE":      true,
	"GOINSECURE":     true,
	"GOAUTH":         true,
}

// BuildEnv returns the entries of env that can change what the go command
// or the C toolchain produce
func BuildEnv(env map[string]string) map[string]string {
	out := make(map[string]string)

	for key, value := range env {
		if isBuildVar(key) {
			out[key] = value
		}
	}

	return out
}

func isBuildVar(key string) bool {
	if ignoredEnv[key] {
		return false
	}

	switch key {
	case "CC", "CXX", "AR", "CPATH", "LIBRARY_PATH", "C_INCLUDE_PATH", "SDKROOT", "MACOSX_DEPLOYMENT_TARGET":
		return true
	}

	for _, prefix := range []string{"GO", "CGO_", "PKG_CONFIG"} {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}

	return false
}

// field writes a length-prefixed record so that adjacent values cannot
// run into each other
func field(h hash.Hash, name string, values ...string) {
	h.Write([]byte(name))
	h.Write([]byte{0x00})
	h.Write([]byte(strconv.Itoa(len(values))))

	for _, v := range values {
		h.Write([]byte{0x00})
		h.Write([]byte(strconv.Itoa(len(v))))
		h.Write([]byte{':'})
		h.Write([]byte(v))
	}

	h.Write([]byte{0x00})
}

// hashFiles hashes paths concurrently; digests keep the order of paths
func hashFiles(ctx context.Context, paths []string) ([]string, error) {
	digests := make([]string, len(paths))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.NumCPU())

	for i, path := range paths {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			digest, err := HashFile(path)
			if err != nil {
				return codes.Wrap(codes.IOError, err, "failed to hash %s", path)
			}

			digests[i] = digest

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return digests, nil
}

// HashFile returns the hex sha256 of a file's content
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
