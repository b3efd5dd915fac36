package cmd

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/gobuild/internal/cache"
	"github.com/Norgate-AV/gobuild/internal/codes"
	"github.com/Norgate-AV/gobuild/internal/msg"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear an output directory",
}

var cacheStatsCmd = &cobra.Command{
	Use:          "stats",
	Short:        "Show the archives recorded in an output directory",
	RunE:         runCacheStats,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

var cacheClearCmd = &cobra.Command{
	Use:          "clear",
	Short:        "Remove every archive, header and manifest entry from an output directory",
	RunE:         runCacheClear,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

func init() {
	cacheCmd.PersistentFlags().StringP("out-dir", "o", "", "Output directory (default $OUT_DIR)")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func openCache(cmd *cobra.Command) (*cache.Cache, error) {
	dir, _ := cmd.Flags().GetString("out-dir")
	if dir == "" {
		dir = os.Getenv("OUT_DIR")
	}

	if dir == "" {
		return nil, codes.New(codes.ConfigurationError, "output directory not specified (set OUT_DIR or --out-dir)")
	}

	return cache.Open(dir)
}

func runCacheStats(cmd *cobra.Command, _ []string) error {
	c, err := openCache(cmd)
	if err != nil {
		return err
	}

	entries, err := c.Entries()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, name := range slices.Sorted(maps.Keys(entries)) {
		e := entries[name]
		if e == nil {
			continue
		}

		fmt.Fprintf(out, "%s\t%s\t%s\t%d\t%s\n", e.Name, e.Target, e.Fingerprint[:min(12, len(e.Fingerprint))], e.Size, e.ToolchainVersion)
	}

	stats, err := c.Stats()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, stats)

	return nil
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	c, err := openCache(cmd)
	if err != nil {
		return err
	}

	lock, err := cache.Acquire(contextOf(cmd), c.Dir(), newLogger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer lock.Release()

	n, err := c.Clear()
	if err != nil {
		return err
	}

	if !flagQuiet {
		msg.Info("removed %d cached archive(s) from %s", n, c.Dir())
	}

	return nil
}
