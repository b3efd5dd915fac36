// Package build sequences one archive build: validate the sources, resolve
// the target, fingerprint, consult the cache and, on a miss, run the
// compiler and store its outputs.
package build

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/Norgate-AV/gobuild/internal/cache"
	"github.com/Norgate-AV/gobuild/internal/codes"
	"github.com/Norgate-AV/gobuild/internal/compiler"
	"github.com/Norgate-AV/gobuild/internal/config"
	"github.com/Norgate-AV/gobuild/internal/emit"
	"github.com/Norgate-AV/gobuild/internal/source"
	"github.com/Norgate-AV/gobuild/internal/target"
)

// Result describes a finished build. It is returned on failure too, with
// State Failed and Err set.
type Result struct {
	State State

	// Trace lists every state visited, in order
	Trace []State

	Fingerprint string
	Toolchain   string
	Target      *target.Spec
	Artifact    *cache.Artifact

	// Directives is empty when metadata output is disabled
	Directives []emit.Directive

	CacheHit bool
	Duration time.Duration
	Err      error
}

func (r *Result) enter(s State) {
	if !CanTransition(r.State, s) && !(len(r.Trace) == 0 && s == Configured) {
		panic(fmt.Sprintf("illegal build transition %s -> %s", r.State, s))
	}

	r.State = s
	r.Trace = append(r.Trace, s)
}

// Engine runs builds. It is safe for concurrent use; builds into the same
// output directory are serialized by a lock on that directory.
type Engine struct {
	Invoker  compiler.Invoker
	Resolver *target.Resolver
	Logger   *slog.Logger

	// OnLine receives compiler output lines as they arrive
	OnLine func(stream compiler.Stream, line string)
}

// New creates an engine using inv to run the toolchain
func New(inv compiler.Invoker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Engine{
		Invoker:  inv,
		Resolver: target.NewResolver(),
		Logger:   logger,
	}
}

// Compile builds cfg. env holds the host inputs (PATH, CC variables and the
// base environment of the compiler); neither cfg nor env is modified, and
// the calling process's environment is never changed.
//
// Errors are returned as produced by the failing stage.
func (e *Engine) Compile(ctx context.Context, cfg *config.Config, env map[string]string) (*Result, error) {
	start := time.Now()
	cfg = cfg.Clone()
	env = maps.Clone(env)

	r := &Result{}
	r.enter(Configured)

	fail := func(err error) (*Result, error) {
		r.Err = err
		r.Duration = time.Since(start)
		r.enter(Failed)
		e.Logger.Error("build failed", "name", cfg.Name, "kind", codes.KindOf(err).String(), "err", err)

		return r, err
	}

	if err := cfg.Validate(); err != nil {
		return fail(err)
	}

	log := e.Logger.With("name", cfg.Name, "out_dir", cfg.OutDir)

	lock, err := cache.Acquire(ctx, cfg.OutDir, log)
	if err != nil {
		return fail(err)
	}
	defer lock.Release()

	c, err := cache.Open(cfg.OutDir)
	if err != nil {
		return fail(err)
	}

	set, err := source.Build(cfg)
	if err != nil {
		return fail(err)
	}

	if !cfg.NoCache {
		if err := checkName(c, cfg, set, log); err != nil {
			return fail(err)
		}
	}

	spec, err := e.Resolver.Resolve(cfg, env)
	if err != nil {
		return fail(err)
	}

	r.Target = spec
	r.enter(Resolved)
	log.Debug("target resolved", "target", cfg.Target, "goos", spec.GOOS, "goarch", spec.GOARCH, "cgo", spec.CGO, "cc", spec.CC)

	compilerEnv := compiler.MergeEnv(env, spec.Env(), cfg.Env)

	version, err := e.toolchainVersion(ctx, cfg, compilerEnv, log)
	if err != nil {
		return fail(err)
	}

	r.Toolchain = version

	fp, err := set.Fingerprint(ctx, cfg, spec, compilerEnv, version)
	if err != nil {
		return fail(err)
	}

	r.Fingerprint = fp
	r.enter(FingerprintComputed)

	if !cfg.NoCache {
		entry, warn := c.Lookup(cfg.Name, fp)
		if warn != nil {
			log.Warn("ignoring build cache", "err", warn)
		}

		if entry != nil {
			r.enter(CacheHit)
			r.CacheHit = true
			r.Artifact = c.Artifact(entry)

			if cfg.Metadata {
				r.Directives = emit.Directives(r.Artifact, set.Inputs(), "")
			}

			r.Duration = time.Since(start)
			r.enter(Completed)
			log.Info("cache hit", "fingerprint", short(fp))

			return r, nil
		}
	}

	r.enter(CacheMiss)
	log.Info("compiling", "fingerprint", short(fp), "target", spec.String())

	stage, err := c.NewStage()
	if err != nil {
		return fail(err)
	}
	defer c.RemoveStage(stage)

	r.enter(Invoking)

	res, err := e.Invoker.Compile(ctx, &compiler.Request{
		Compiler: cfg.Compiler,
		Dir:      set.Dir,
		Output:   filepath.Join(stage, cache.ArchiveName(cfg.Name)),
		Sources:  set.Args(),
		LDFlags:  cfg.LDFlags,
		TrimPath: cfg.TrimPath,
		Flags:    cfg.Flags,
		Env:      compilerEnv,
		Timeout:  cfg.Timeout,
		OnLine:   e.onLine(log),
	})
	if err != nil {
		return fail(err)
	}

	r.enter(Compiled)

	art, err := c.Store(&cache.Entry{
		Name:             cfg.Name,
		Fingerprint:      fp,
		ToolchainVersion: version,
		Target:           spec.String(),
		Sources:          set.Identity(),
	}, stage)
	if err != nil {
		return fail(err)
	}

	r.Artifact = art
	r.enter(Stored)

	if cfg.Metadata {
		r.Directives = emit.Directives(art, set.Inputs(), res.Stderr)
	}

	r.Duration = time.Since(start)
	r.enter(Completed)
	log.Info("compiled", "duration", res.Duration.Round(time.Millisecond), "archive", art.Archive)

	return r, nil
}

// toolchainVersion asks the invoker for the compiler version, through the
// output directory's version cache when it can be opened
func (e *Engine) toolchainVersion(ctx context.Context, cfg *config.Config, env map[string]string, log *slog.Logger) (string, error) {
	vc, err := compiler.OpenVersionCache(filepath.Join(cfg.OutDir, cache.StateDir, compiler.VersionCacheFile))
	if err != nil {
		log.Warn("toolchain version cache unavailable", "err", err)
	}
	defer vc.Close()

	version, err := vc.Version(ctx, e.Invoker, cfg.Compiler, env)
	if err != nil {
		return "", err
	}

	log.Debug("toolchain", "version", version)

	return version, nil
}

func (e *Engine) onLine(log *slog.Logger) func(compiler.Stream, string) {
	return func(stream compiler.Stream, line string) {
		log.Debug("compiler output", "stream", stream.String(), "line", line)

		if e.OnLine != nil {
			e.OnLine(stream, line)
		}
	}
}

// checkName rejects a build whose name is recorded in the output directory
// for different sources, since storing it would overwrite another library's
// artifacts. Entries without recorded sources are not checked.
func checkName(c *cache.Cache, cfg *config.Config, set *source.Set, log *slog.Logger) error {
	recorded, err := c.Sources(cfg.Name)
	if err != nil {
		log.Warn("ignoring build cache", "err", err)
		return nil
	}

	if recorded != nil && !slices.Equal(recorded, set.Identity()) {
		err := codes.New(codes.ConfigurationError,
			"output name %q is already used in %s by a build with different sources (use --no-cache or `gobuild cache clear` to replace it)",
			cfg.Name, cfg.OutDir)
		err.Details = recorded

		return err
	}

	return nil
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}

	return fp
}
