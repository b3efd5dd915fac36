package compiler

import (
	"maps"
	"slices"
	"strings"
)

// BuildArgs builds the `go build` arguments for a request
func BuildArgs(req *Request) []string {
	cmdArgs := []string{"build", "-buildmode=c-archive", "-o", req.Output}

	if req.LDFlags != "" {
		cmdArgs = append(cmdArgs, "-ldflags", req.LDFlags)
	}

	if req.TrimPath {
		cmdArgs = append(cmdArgs, "-trimpath")
	}

	for _, flag := range req.Flags {
		if flag != "" {
			cmdArgs = append(cmdArgs, flag)
		}
	}

	cmdArgs = append(cmdArgs, req.Sources...)

	return cmdArgs
}

// MergeEnv layers environment maps; later layers win
func MergeEnv(layers ...map[string]string) map[string]string {
	env := make(map[string]string)
	for _, layer := range layers {
		maps.Copy(env, layer)
	}

	return env
}

// Environ renders an environment map as KEY=VALUE entries in key order
func Environ(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, key := range slices.Sorted(maps.Keys(env)) {
		out = append(out, key+"="+env[key])
	}

	return out
}

// EnvMap parses KEY=VALUE entries such as os.Environ() output. Entries
// without '=' are ignored.
func EnvMap(entries []string) map[string]string {
	env := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if ok && key != "" {
			env[key] = value
		}
	}

	return env
}
