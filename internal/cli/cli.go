// ============================================================================
// gymflow CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: cobra front end for the simulation host, the remote agent and
//          journal inspection
//
// Command Structure:
//   gymflow                        # Root command
//   ├── run                        # Simulate a dataset
//   │   ├── --algorithm, -a       # Scheduler selector
//   │   ├── --file, -f            # Dataset JSON (stdin when empty)
//   │   ├── --port, -p            # Bridge port for gym selectors
//   │   ├── --journal             # Journal file
//   │   ├── --solution            # Solution output file
//   │   └── --metrics             # Serve Prometheus metrics
//   ├── agent                      # Drive a running bridge with a policy
//   │   ├── --addr
//   │   └── --policy
//   ├── replay                     # Rebuild executor state from a journal
//   │   └── --journal
//   ├── --config, -c              # Config file (default configs/default.yaml)
//   └── --verbose, -v             # Debug logging
//
// run Command:
//   1. Load config, apply flag overrides
//   2. Parse the selector and load the dataset
//   3. Start the metrics server (if enabled) and, for gym selectors, the
//      bridge server the remote agent connects to
//   4. Run the world; push the final result to the agent
//   5. Write the solution, print it to stdout and a summary to stderr
//
//   Examples:
//     ./gymflow run -f dataset.json
//     ./gymflow run -a buffer:gym:8:30 -f dataset.json -p 25333
//     ./gymflow agent --addr localhost:25333 --policy round-robin
//     ./gymflow replay --journal run.jsonl
//
// Signal Handling:
//   SIGINT and SIGTERM cancel the run context. A blocked handshake is
//   interrupted and the bridge stops immediately.
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/gymflow/internal/agent"
	"github.com/ChuLiYu/gymflow/internal/bridge"
	"github.com/ChuLiYu/gymflow/internal/handshake"
	"github.com/ChuLiYu/gymflow/internal/metrics"
	"github.com/ChuLiYu/gymflow/internal/scheduling"
	"github.com/ChuLiYu/gymflow/internal/simulation"
	"github.com/ChuLiYu/gymflow/internal/solution"
	"github.com/ChuLiYu/gymflow/internal/storage/journal"
	"github.com/ChuLiYu/gymflow/pkg/types"
)

var log = slog.Default()

var (
	configFile string
	verbose    bool
)

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gymflow",
		Short: "gymflow: a workflow execution simulator with a gym-style scheduling bridge",
		Long: `gymflow simulates DAG workflows on a pool of machines with:
- dependency-aware per-machine execution queues
- built-in and externally delegated scheduling
- a gRPC bridge for reinforcement learning agents
- an append-only journal and Prometheus metrics`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", DefaultConfigPath, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildAgentCommand())
	rootCmd.AddCommand(buildReplayCommand())

	return rootCmd
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand() *cobra.Command {
	var (
		algorithm    string
		datasetPath  string
		port         int
		journalPath  string
		solutionPath string
		withMetrics  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a simulation of a workflow dataset",
		Long:  "Simulate a dataset with a built-in scheduler or delegate decisions to a remote agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			flags := cmd.Flags()
			if flags.Changed("algorithm") {
				cfg.Simulation.Algorithm = algorithm
			}
			if flags.Changed("file") {
				cfg.Simulation.Dataset = datasetPath
			}
			if flags.Changed("port") {
				cfg.Bridge.Port = port
			}
			if flags.Changed("journal") {
				cfg.Journal.Path = journalPath
			}
			if flags.Changed("solution") {
				cfg.Solution.Path = solutionPath
			}
			if flags.Changed("metrics") {
				cfg.Metrics.Enabled = withMetrics
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runSimulation(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", "static:round-robin", "scheduler selector: static:round-robin, static:gym, buffer:gym:<size>:<timeout>")
	cmd.Flags().StringVarP(&datasetPath, "file", "f", "", "dataset JSON file (stdin when empty)")
	cmd.Flags().IntVarP(&port, "port", "p", 25333, "bridge port for gym selectors")
	cmd.Flags().StringVar(&journalPath, "journal", "", "append the run to this journal file")
	cmd.Flags().StringVar(&solutionPath, "solution", "", "write the solution to this file")
	cmd.Flags().BoolVar(&withMetrics, "metrics", false, "serve Prometheus metrics")

	return cmd
}

func runSimulation(ctx context.Context, cfg *Config, out, errOut io.Writer) error {
	sel, err := scheduling.ParseSelector(cfg.Simulation.Algorithm)
	if err != nil {
		return err
	}

	ds, err := simulation.LoadDataset(cfg.Simulation.Dataset)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	var j *journal.Journal
	if cfg.Journal.Path != "" {
		j, err = journal.Open(cfg.Journal.Path, cfg.JournalOptions())
		if err != nil {
			return err
		}
	}

	var (
		ch  *handshake.StaticChannel
		env *scheduling.StaticEnvironment
	)
	if sel.Delegated() {
		ch = handshake.NewStaticChannel()
		env = handshake.NewEnvironment(ch)
	}

	scheduler, err := scheduling.FromSelector(sel, env, scheduling.WithHandshakeObserver(collector.ObserveHandshake))
	if err != nil {
		_ = j.Close()
		return err
	}

	world := simulation.NewWorld(ds, simulation.Config{
		Scheduler: scheduler,
		Journal:   j,
		Metrics:   collector,
		Algorithm: sel.Raw,
	})

	g, gctx := errgroup.WithContext(ctx)

	stopMetrics := func() {}
	if cfg.Metrics.Enabled {
		metricsCtx, cancel := context.WithCancel(gctx)
		stopMetrics = cancel
		g.Go(func() error {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port)
			return metrics.StartServer(metricsCtx, cfg.Metrics.Port, registry)
		})
	}

	var (
		server     *bridge.Server
		stopBridge = func() {}
	)
	if ch != nil {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Bridge.Port))
		if err != nil {
			stopMetrics()
			_ = g.Wait()
			_ = j.Close()
			return fmt.Errorf("failed to listen on port %d: %w", cfg.Bridge.Port, err)
		}
		bridgeCtx, cancel := context.WithCancel(gctx)
		stopBridge = cancel
		server = bridge.NewServer(handshake.NewAgent(ch), cfg.Bridge.ShutdownGrace)
		g.Go(func() error {
			return server.Serve(bridgeCtx, lis)
		})
	}

	var outcome simulation.Outcome
	g.Go(func() error {
		defer stopMetrics()

		var err error
		outcome, err = world.Run(gctx)
		if err != nil {
			if ch != nil {
				ch.Close()
			}
			return err
		}
		if env == nil {
			return nil
		}

		final, err := simulation.FinalResult(outcome)
		if err != nil {
			ch.Close()
			return err
		}
		// The channel stays open: the agent still has to take the final result.
		if err := env.Finish(gctx, final); err != nil {
			return err
		}
		awaitCollection(gctx, server, cfg.Bridge.CollectTimeout, stopBridge)
		return nil
	})

	runErr := g.Wait()
	stopBridge()
	if err := j.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}

	if cfg.Solution.Path != "" {
		if err := solution.NewManager(cfg.Solution.Path).Write(outcome.Solution); err != nil {
			return err
		}
	}

	encoded, err := outcome.Solution.JSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, encoded)

	printOutcome(errOut, outcome, cfg)
	return nil
}

// awaitCollection gives the agent up to timeout to read the final result.
// After that the bridge is stopped so an absent or dead agent cannot hold
// the host. Once collected, the bridge stops itself after its grace period.
func awaitCollection(ctx context.Context, server *bridge.Server, timeout time.Duration, stop func()) {
	if timeout <= 0 {
		timeout = bridge.DefaultCollectTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-server.Finished():
	case <-timer.C:
		log.Warn("Agent did not collect the final result, stopping bridge", "timeout", timeout)
		stop()
	case <-ctx.Done():
	}
}

func printOutcome(w io.Writer, outcome simulation.Outcome, cfg *Config) {
	s := outcome.Summary

	tasks := fmt.Sprintf("%d/%d completed", s.Completed, s.Buffered)
	if s.Incomplete() > 0 {
		tasks = color.YellowString(tasks)
	} else {
		tasks = color.GreenString(tasks)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, color.CyanString("Simulation finished"))
	fmt.Fprintf(w, "  ├─ Algorithm: %s\n", outcome.Solution.Algorithm)
	fmt.Fprintf(w, "  ├─ Tasks:     %s (scheduled %d, executed %d)\n", tasks, s.Scheduled, s.Executed)
	fmt.Fprintf(w, "  ├─ Makespan:  %.3f / horizon %.0f\n", s.Makespan, s.Horizon)
	fmt.Fprintf(w, "  └─ Reward:    %s\n", colorReward(s.Reward))
	if cfg.Solution.Path != "" {
		fmt.Fprintf(w, "  Solution written to %s\n", cfg.Solution.Path)
	}
	if cfg.Journal.Path != "" {
		fmt.Fprintf(w, "  Journal appended to %s\n", cfg.Journal.Path)
	}
}

func colorReward(reward float64) string {
	text := fmt.Sprintf("%.6f", reward)
	switch {
	case reward > -0.1:
		return color.GreenString(text)
	case reward > -0.5:
		return color.YellowString(text)
	default:
		return color.RedString(text)
	}
}

// ============================================================================
// agent
// ============================================================================

func buildAgentCommand() *cobra.Command {
	var (
		addr       string
		policyName string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Drive a running simulation bridge with a built-in policy",
		Long:  "Connect to the bridge of a gym-scheduled run and answer every observation until the episode ends",
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := agent.PolicyByName(policyName)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			return runAgent(ctx, addr, policy, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:25333", "bridge address")
	cmd.Flags().StringVar(&policyName, "policy", "round-robin", "policy: round-robin, first-machine")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0: no limit)")

	return cmd
}

func runAgent(ctx context.Context, addr string, policy agent.Policy, out, errOut io.Writer) error {
	conn, err := bridge.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to bridge: %w", err)
	}
	defer conn.Close()

	client := bridge.NewClient(conn)
	result, steps, err := agent.Run(ctx, client, policy)
	if err != nil {
		return err
	}

	if encoded, ok := result.Info["solution"]; ok {
		fmt.Fprintln(out, encoded)
	}

	fmt.Fprintln(errOut)
	fmt.Fprintln(errOut, color.CyanString("Episode %s finished", client.EpisodeID()))
	fmt.Fprintf(errOut, "  ├─ Steps:     %d\n", steps)
	fmt.Fprintf(errOut, "  ├─ Completed: %s/%s\n", result.Info["completed_tasks"], result.Info["buffered_tasks"])
	fmt.Fprintf(errOut, "  ├─ Makespan:  %s\n", result.Info["makespan"])
	fmt.Fprintf(errOut, "  └─ Reward:    %s\n", colorReward(result.Reward))
	return nil
}

// ============================================================================
// replay
// ============================================================================

func buildReplayCommand() *cobra.Command {
	var journalPath string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild executor state from a journal",
		Long:  "Verify a journal and replay it through a fresh executor, then display its statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if journalPath == "" {
				cfg, err := loadConfig(configFile)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				journalPath = cfg.Journal.Path
			}
			if journalPath == "" {
				return fmt.Errorf("journal path is required (use --journal or journal.path)")
			}
			return showReplay(journalPath, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&journalPath, "journal", "", "journal file to replay")

	return cmd
}

func showReplay(path string, out io.Writer) error {
	ex, summary, err := journal.Rebuild(path)
	if err != nil {
		return fmt.Errorf("failed to rebuild from %s: %w", path, err)
	}

	fmt.Fprintln(out, color.CyanString("Journal %s", path))
	fmt.Fprintf(out, "  ├─ Records:   %d (last seq %d, t=%v)\n", summary.Records, summary.LastSeq, summary.LastTime)
	fmt.Fprintf(out, "  ├─ Runs:      %d\n", summary.Runs)
	if summary.Run != nil {
		fmt.Fprintf(out, "  ├─ Last run:  %s (horizon %v)\n", summary.Run.Algorithm, summary.Run.Horizon)
	}

	eventTypes := make([]string, 0, len(summary.ByType))
	for t := range summary.ByType {
		eventTypes = append(eventTypes, string(t))
	}
	sort.Strings(eventTypes)
	for _, t := range eventTypes {
		fmt.Fprintf(out, "  │  └─ %-16s %d\n", t, summary.ByType[journal.EventType(t)])
	}

	fmt.Fprintf(out, "  ├─ Machines:  %d\n", len(ex.Machines()))

	stats := ex.Stats()
	fmt.Fprintln(out, "  └─ Tasks:")
	for _, status := range []types.TaskStatus{
		types.StatusRegistered,
		types.StatusQueued,
		types.StatusReady,
		types.StatusExecuting,
		types.StatusCompleted,
	} {
		fmt.Fprintf(out, "     └─ %-10s %d\n", status, stats[string(status)])
	}
	return nil
}
