package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/buildgraph/pkg/config"
	blog "github.com/cuemby/buildgraph/pkg/log"
	"github.com/cuemby/buildgraph/pkg/metrics"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

var cfg config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "buildctl",
	Short:   "buildctl drives the buildgraph build manager",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("buildctl version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error), overrides BUILDGRAPH_LOG_LEVEL")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format, overrides BUILDGRAPH_LOG_JSON")

	cobra.OnInitialize(initLoggingAndMetrics)

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(tlogCmd)
}

func initLoggingAndMetrics() {
	cfg = config.Load()

	if v, _ := rootCmd.PersistentFlags().GetString("log-level"); v != "" {
		cfg.LogLevel = blog.Level(v)
	}
	if v, _ := rootCmd.PersistentFlags().GetBool("log-json"); v {
		cfg.LogJSON = true
	}

	blog.Init(blog.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})

	metrics.SetVersion(Version)
	metrics.RegisterComponent("scheduler", true, "")
	metrics.RegisterComponent("buildmanager", true, "")
	// Node readiness comes from a live NodeSource registered by
	// buildmanager.New once a build actually starts (see build.go), not a
	// static flag set at process init.

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				blog.WithComponent("buildctl").Error().Err(err).Msg("metrics server exited")
			}
		}()
	}
}
