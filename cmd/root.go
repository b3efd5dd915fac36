package cmd

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/gobuild/internal/codes"
	"github.com/Norgate-AV/gobuild/internal/msg"
	"github.com/Norgate-AV/gobuild/internal/version"
)

var (
	flagVerbose bool
	flagQuiet   bool
)

var rootCmd = &cobra.Command{
	Use:           "gobuild [files...]",
	Short:         "Build Go code into a static C archive",
	Long:          `Compile Go sources into lib<name>.a and <name>.h and print the directives a Cargo build script needs to link them.`,
	RunE:          runBuild,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ArbitraryArgs,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		report(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version.GetFullVersion()
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Only print errors")

	addBuildFlags(rootCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cacheCmd)
}

// newLogger returns the structured logger for engine events. Logs share
// standard error with msg; standard output is reserved for directives.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn

	switch {
	case flagVerbose:
		level = slog.LevelDebug
	case flagQuiet:
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// report prints err for a human, one detail per line
func report(err error) {
	var e *codes.Error
	if !errors.As(err, &e) {
		msg.Error("%v", err)
		return
	}

	msg.Error("%s: %s", e.Kind, e.Message)

	for _, d := range e.Details {
		msg.Detail("%s", d)
	}

	switch {
	case e.Kind == codes.CompilationFailed && e.Stderr != "":
		_, _ = io.WriteString(msg.Output, e.Stderr)
	case e.Err != nil:
		msg.Detail("%v", e.Err)
	}
}
