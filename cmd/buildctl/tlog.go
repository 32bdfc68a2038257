package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/buildgraph/pkg/tlog"
)

var tlogCmd = &cobra.Command{
	Use:   "tlog",
	Short: "Inspect and maintain tracking-log files",
}

var tlogStaleCmd = &cobra.Command{
	Use:   "stale",
	Short: "Print which sources a tool's tracking logs say are out of date",
	RunE:  runTlogStale,
}

var tlogCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Rewrite a tool's tracking logs into one compacted table",
	RunE:  runTlogCompact,
}

func init() {
	tlogStaleCmd.Flags().String("log", "", "Directory containing the tool's .read.tlog/.write.tlog files")
	tlogStaleCmd.Flags().String("sources", "", "Glob matching the candidate source files")
	tlogStaleCmd.Flags().Bool("optimize", false, "Enable the minimal-rebuild optimization")
	tlogStaleCmd.Flags().Bool("keep", false, "Use Keep composite mode instead of the Shred default")
	tlogStaleCmd.MarkFlagRequired("log")
	tlogStaleCmd.MarkFlagRequired("sources")

	tlogCompactCmd.Flags().String("log", "", "Directory containing the .write.tlog files to compact")
	tlogCompactCmd.Flags().Bool("keep", false, "Use Keep composite mode instead of the Shred default")
	tlogCompactCmd.MarkFlagRequired("log")

	tlogCmd.AddCommand(tlogStaleCmd)
	tlogCmd.AddCommand(tlogCompactCmd)
}

func compositeMode(keep bool) tlog.CompositeMode {
	if keep {
		return tlog.Keep
	}
	return tlog.Shred
}

// logFiles returns every *.tlog path directly under dir matching role, a
// case-insensitive substring ("read" or "write") distinguishing the two log
// kinds real build tools pair up side by side in the same directory.
func logFiles(dir, role string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".tlog") {
			continue
		}
		if role == "" || strings.Contains(strings.ToLower(e.Name()), role) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func runTlogStale(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("log")
	sourcesGlob, _ := cmd.Flags().GetString("sources")
	optimize, _ := cmd.Flags().GetBool("optimize")
	keep, _ := cmd.Flags().GetBool("keep")

	mode := compositeMode(keep)
	state := tlog.NewIncrementalState(mode)

	readFiles, err := logFiles(dir, "read")
	if err != nil {
		return err
	}
	writeFiles, err := logFiles(dir, "write")
	if err != nil {
		return err
	}
	if err := state.Reads.Load(readFiles, ""); err != nil {
		return fmt.Errorf("loading read logs: %w", err)
	}
	if err := state.Writes.Load(writeFiles, ""); err != nil {
		return fmt.Errorf("loading write logs: %w", err)
	}

	sources, err := filepath.Glob(sourcesGlob)
	if err != nil {
		return fmt.Errorf("invalid --sources glob: %w", err)
	}
	sort.Strings(sources)

	stat := tlog.DefaultStat
	if cfg.UseSymlinkTimestamp {
		stat = tlog.SymlinkStat
	}
	stale, reasons := state.ComputeSourcesNeedingCompilation(sources, tlog.Options{
		MinimalRebuildOptimization: optimize,
		Stat:                       stat,
	})

	if len(stale) == 0 {
		fmt.Println("no stale sources")
		return nil
	}
	sort.Strings(stale)
	for _, s := range stale {
		fmt.Printf("%s\t%s\n", s, reasons[s])
	}
	return nil
}

func runTlogCompact(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("log")
	keep, _ := cmd.Flags().GetBool("keep")

	writeFiles, err := logFiles(dir, "write")
	if err != nil {
		return err
	}
	if len(writeFiles) == 0 {
		return fmt.Errorf("no .write.tlog files found under %s", dir)
	}

	tl := tlog.New(compositeMode(keep))
	if err := tl.Load(writeFiles, ""); err != nil {
		return fmt.Errorf("loading write logs: %w", err)
	}

	out := filepath.Join(dir, "compacted.write.tlog")
	if err := tl.Save(out, nil); err != nil {
		return fmt.Errorf("saving compacted table: %w", err)
	}

	fmt.Printf("compacted %d log file(s) into %s\n", len(writeFiles), out)
	return nil
}
