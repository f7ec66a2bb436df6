// Package main provides the NornicExt CLI entry point.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/orneryd/nornicext/pkg/config"
	"github.com/orneryd/nornicext/pkg/modules/changelog"
	"github.com/orneryd/nornicext/pkg/modules/relcount"
	"github.com/orneryd/nornicext/pkg/policy"
	"github.com/orneryd/nornicext/pkg/replay"
	"github.com/orneryd/nornicext/pkg/runtime"
	"github.com/orneryd/nornicext/pkg/storage"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nornicext",
		Short: "NornicExt - transaction-driven modules for an embedded graph engine",
		Long: `NornicExt runs transaction-driven modules against an embedded graph engine.

Every module sees the changes of each transaction through a filtered view
before the transaction commits, and may veto it or write back.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default: nornicext.yaml lookup)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "NornicExt v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	// Config command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, cfg.String())
			return nil
		},
	})

	// Replay command
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Run a transaction script through the configured modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, out)
		},
	}
	replayCmd.Flags().String("script", "", "YAML transaction script")
	replayCmd.Flags().Bool("metrics", false, "Print runtime metrics after the run")
	_ = replayCmd.MarkFlagRequired("script")
	rootCmd.AddCommand(replayCmd)

	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func runReplay(cmd *cobra.Command, out io.Writer) error {
	scriptPath, _ := cmd.Flags().GetString("script")
	printMetrics, _ := cmd.Flags().GetBool("metrics")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	script, err := replay.LoadFile(scriptPath)
	if err != nil {
		return err
	}

	engine, err := openEngine(cfg.Storage)
	if err != nil {
		return err
	}
	defer engine.Close()

	registry := prometheus.NewRegistry()
	manager := storage.NewTransactionManager(engine)
	mods, err := buildRuntime(cfg, registry, manager)
	if err != nil {
		return err
	}

	results, err := replay.NewRunner(manager).Run(script)
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(out, "%-12s %s: %v\n", res.Outcome, res.Name, res.Err)
		} else {
			fmt.Fprintf(out, "%-12s %s\n", res.Outcome, res.Name)
		}
	}
	if err != nil {
		return err
	}

	if mods.runtime != nil {
		for _, m := range mods.relcounts {
			if needs, cause := mods.runtime.NeedsReinitialization(m.ID()); needs {
				fmt.Fprintf(out, "reinitializing %s: %v\n", m.ID(), cause)
				if err := m.Reinitialize(manager); err != nil {
					return err
				}
				mods.runtime.MarkReinitialized(m.ID())
			}
		}
	}

	for _, m := range mods.changelogs {
		committed, discarded := m.Stats()
		fmt.Fprintf(out, "\n[%s] %d committed, %d rolled back; last transaction:\n", m.ID(), committed, discarded)
		for _, line := range m.Last() {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}

	nodes, err := engine.NodeCount()
	if err != nil {
		return err
	}
	edges, err := engine.EdgeCount()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\ngraph: %d nodes, %d relationships\n", nodes, edges)

	if printMetrics {
		return writeMetrics(out, registry)
	}
	return nil
}

func openEngine(cfg config.StorageConfig) (storage.Engine, error) {
	switch cfg.Engine {
	case config.EngineBadger:
		return storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
			DataDir:    cfg.DataDir,
			InMemory:   cfg.InMemory,
			SyncWrites: cfg.SyncWrites,
		})
	default:
		return storage.NewMemoryEngine(), nil
	}
}

type modules struct {
	runtime    *runtime.Runtime
	changelogs []*changelog.Module
	relcounts  []*relcount.Module
}

// buildRuntime creates the configured modules and registers the runtime with
// manager. It registers nothing when the runtime is disabled.
func buildRuntime(cfg *config.Config, reg prometheus.Registerer, manager *storage.TransactionManager) (*modules, error) {
	mods := &modules{}
	if !cfg.Runtime.Enabled {
		log.Printf("[nornicext] runtime disabled")
		return mods, nil
	}

	rtCfg := runtime.Config{Debug: cfg.Logging.Debug()}
	if cfg.Metrics.Enabled {
		rtCfg.Registerer = reg
		rtCfg.Namespace = cfg.Metrics.Namespace
	}
	rt := runtime.New(rtCfg)

	for _, mc := range cfg.Runtime.Modules {
		var m runtime.TxDrivenModule
		switch mc.Type {
		case config.ModuleTypeChangelog:
			cl := changelog.New(mc.ID, policy.FromConfig(mc.Policies))
			mods.changelogs = append(mods.changelogs, cl)
			m = cl
		case config.ModuleTypeRelCount:
			rc := relcount.New(mc.ID, mc.Policies.RelationshipTypes...).WithLabels(mc.Policies.NodeLabels...)
			mods.relcounts = append(mods.relcounts, rc)
			m = rc
		default:
			return nil, fmt.Errorf("module %s: unknown type %q", mc.ID, mc.Type)
		}
		if err := rt.Register(m); err != nil {
			return nil, err
		}
	}

	manager.RegisterHandler(rt)
	mods.runtime = rt
	return mods, nil
}

// writeMetrics prints counters and histogram counts, one series per line.
func writeMetrics(out io.Writer, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}

	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			series := mf.GetName()
			if len(labels) > 0 {
				series += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", series, m.GetCounter().GetValue()))
			case m.GetHistogram() != nil:
				lines = append(lines, fmt.Sprintf("%s count=%d sum=%g", series,
					m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum()))
			}
		}
	}
	sort.Strings(lines)

	fmt.Fprintln(out, "\nmetrics:")
	for _, line := range lines {
		fmt.Fprintf(out, "  %s\n", line)
	}
	return nil
}
