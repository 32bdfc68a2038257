package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/buildgraph/pkg/buildmanager"
	"github.com/cuemby/buildgraph/pkg/metrics"
	"github.com/cuemby/buildgraph/pkg/nodemanager"
	"github.com/cuemby/buildgraph/pkg/types"
	"github.com/cuemby/buildgraph/pkg/wire"
)

var buildCmd = &cobra.Command{
	Use:   "build MANIFEST.yaml",
	Short: "Drive a build manager through a YAML submission manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().StringSlice("target", nil, "Override every submission's target list")
	buildCmd.Flags().Int("node-count", 1, "Maximum number of worker nodes, including the in-process one")
}

// unspawnedNode is the default Spawn hook: launching real out-of-process
// worker binaries is a deployment concern this module doesn't specify (the
// node-side "actual building" implementation is out of scope, spec.md §1),
// so any node beyond the always-present virtual one fails to spawn. The
// build manager logs the failure and the request that asked for the node
// waits for the virtual node instead.
func unspawnedNode(id int, kind types.NodeKind, addr string) error {
	return fmt.Errorf("buildctl: no out-of-process node launcher configured for node %d (%s); wire a real Spawn hook to use node-count > 1", id, kind)
}

func runBuild(cmd *cobra.Command, args []string) error {
	targets, _ := cmd.Flags().GetStringSlice("target")
	nodeCount, _ := cmd.Flags().GetInt("node-count")
	if nodeCount < 1 {
		nodeCount = 1
	}

	m, err := loadManifest(args[0])
	if err != nil {
		return err
	}

	base := wire.BaseHandshake(wire.Context(true, 1), wire.VersionHash("buildctl"))

	mgr := buildmanager.New(buildmanager.Config{
		MaxNodes:        nodeCount,
		ConnectTimeout:  cfg.NodeConnectTimeout,
		HostHandshake:   wire.HostHandshake(base, false),
		ClientHandshake: wire.ClientHandshake(base),
		Spawn:           nodemanager.SpawnFunc(unspawnedNode),
	})

	if err := mgr.BeginBuild(cfg.ClearXMLCacheOnBuildManager); err != nil {
		return fmt.Errorf("starting build: %w", err)
	}

	if cfg.MetricsAddr != "" {
		collector := metrics.NewCollector(mgr)
		collector.Start()
		defer collector.Stop()
	}

	type pending struct {
		project string
		sub     *types.Submission
	}
	var subs []pending

	for _, s := range m.Submissions {
		wantTargets := s.Targets
		if len(targets) > 0 {
			wantTargets = targets
		}
		sub, err := mgr.Submit(buildmanager.SubmissionSpec{
			ProjectPath:      s.Project,
			ToolsVersion:     s.ToolsVersion,
			GlobalProperties: s.Properties,
			Targets:          wantTargets,
		})
		if err != nil {
			return fmt.Errorf("submitting %s: %w", s.Project, err)
		}
		subs = append(subs, pending{project: s.Project, sub: sub})
	}

	start := time.Now()
	failures := 0
	for _, p := range subs {
		result := p.sub.Wait()
		status := "ok"
		if result.Outcome != types.OutcomeOK {
			status = result.Outcome.String()
			failures++
		}
		fmt.Printf("%-40s %s\n", p.project, status)
		if result.Err != nil {
			fmt.Printf("  %v\n", result.Err)
		}
	}

	if _, err := mgr.EndBuild(); err != nil {
		return fmt.Errorf("build ended with an error: %w", err)
	}

	fmt.Printf("\n%d submission(s), %d failed, %s\n", len(subs), failures, time.Since(start).Round(time.Millisecond))
	if failures > 0 {
		return fmt.Errorf("%d submission(s) failed", failures)
	}
	return nil
}
