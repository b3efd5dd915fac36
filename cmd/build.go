package cmd

import (
	"context"
	"maps"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Norgate-AV/gobuild/internal/build"
	"github.com/Norgate-AV/gobuild/internal/codes"
	"github.com/Norgate-AV/gobuild/internal/compiler"
	"github.com/Norgate-AV/gobuild/internal/config"
	"github.com/Norgate-AV/gobuild/internal/emit"
	"github.com/Norgate-AV/gobuild/internal/msg"
)

var flagFormat = NewEnumValue(config.DefaultFormat, map[string]string{
	config.FormatCargo: "cargo:key=value lines for a build script (default)",
	config.FormatPlain: "one 'kind value' pair per line",
})

var buildCmd = &cobra.Command{
	Use:   "build [files...]",
	Short: "Build a C archive",
	Long: `Compile Go sources with -buildmode=c-archive into lib<name>.a and <name>.h.

Unchanged builds are served from the output directory without invoking the
compiler. OUT_DIR, TARGET and HOST are read from the environment when set.`,
	RunE:         runBuild,
	SilenceUsage: true,
	Args:         cobra.ArbitraryArgs,
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceP("file", "f", []string{}, "Source files or glob patterns")
	cmd.Flags().StringP("package", "p", "", "Package import path or directory (instead of files)")
	cmd.Flags().StringP("name", "n", "", "Output name: produces lib<name>.a and <name>.h")
	cmd.Flags().StringSliceP("env", "e", []string{}, "Compiler environment override (KEY=VALUE)")
	cmd.Flags().String("env-file", "", "Read compiler environment overrides from a dotenv file")
	cmd.Flags().Bool("cgo", config.DefaultCGO, "Enable cgo")
	cmd.Flags().StringSlice("flag", []string{}, "Extra go build flag")
	cmd.Flags().String("compiler", config.DefaultCompiler, "Go binary")
	cmd.Flags().String("cc", "", "C compiler")
	cmd.Flags().String("goos", "", "GOOS, overriding the target triple")
	cmd.Flags().String("goarch", "", "GOARCH, overriding the target triple")
	cmd.Flags().String("ldflags", "", "Value for -ldflags")
	cmd.Flags().Bool("trimpath", false, "Pass -trimpath")
	cmd.Flags().Bool("metadata", config.DefaultMetadata, "Print build directives")
	cmd.Flags().Duration("timeout", config.DefaultTimeout, "Kill the compiler after this long (0 disables)")
	cmd.Flags().StringP("dir", "C", "", "Directory relative sources resolve against")
	cmd.Flags().StringP("out-dir", "o", "", "Output directory (default $OUT_DIR)")
	cmd.Flags().StringP("target", "t", "", "Target triple (default $TARGET)")
	cmd.Flags().String("host", "", "Host triple (default $HOST)")
	cmd.Flags().Bool("no-cache", false, "Rebuild even when the cache is current")
	cmd.Flags().Var(&flagFormat, "format", "Directive format, one of "+flagFormat.HelpString())
	_ = cmd.RegisterFlagCompletionFunc("format", flagFormat.CompletionFunc())
}

func init() {
	addBuildFlags(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().LoadForBuild(cmd, args)
	if err != nil {
		return err
	}

	envFile, _ := cmd.Flags().GetString("env-file")

	env, err := hostEnv(envFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cmd.ErrOrStderr())
	engine := build.New(compiler.NewExec(logger), logger)

	res, err := engine.Compile(ctx, cfg, env)
	if err != nil {
		return err
	}

	if !flagQuiet {
		state := "built"
		if res.CacheHit {
			state = "up to date"
		}

		msg.Info("%s %s (%s)", cfg.Name, state, res.Target)
	}

	if err := emit.Write(cmd.OutOrStdout(), cfg.Format, res.Directives); err != nil {
		return codes.Wrap(codes.IOError, err, "failed to write build directives")
	}

	return nil
}

// hostEnv is the process environment with the entries of envFile, if any,
// layered on top
func hostEnv(envFile string) (map[string]string, error) {
	env := compiler.EnvMap(os.Environ())

	if envFile == "" {
		return env, nil
	}

	overrides, err := godotenv.Read(envFile)
	if err != nil {
		return nil, codes.Wrap(codes.ConfigurationError, err, "failed to read env file %s", envFile)
	}

	maps.Copy(env, overrides)

	return env, nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}
