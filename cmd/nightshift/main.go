// nightshift is an autonomous overnight operator for a content
// platform: it browses, collects material worth learning from, and
// periodically composes and publishes original posts, healing itself
// through the errors a long unattended run accumulates.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"nightshift/internal/browser"
	"nightshift/internal/config"
	"nightshift/internal/creation"
	"nightshift/internal/cycle"
	"nightshift/internal/knowledge"
	"nightshift/internal/logging"
	"nightshift/internal/reasoning"
	"nightshift/internal/recorder"
	"nightshift/internal/recovery"
	"nightshift/internal/supervisor"
)

var (
	workspace string
	verbose   bool
	seed      int64

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nightshift",
	Short: "Autonomous browse-collect-publish operator",
	Long: `nightshift runs an unattended session against a content platform:
it rotates through search keywords, reads and engages with candidate
posts, stores high-quality material, and when enough has accumulated,
composes and publishes an original draft.

Errors inside a cycle never kill the run; a recovery layer classifies
them, attempts a synthesized repair in a closed verb vocabulary, and
falls back to resetting the page. Only a lost browser, an interrupt,
or the time budget ends the session.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an unattended session",
	Long: `Connects to the browser, loads the workspace config and profile, and
runs the supervisor loop until the time budget expires or a fatal
error occurs. Send SIGINT/SIGTERM for a clean stop.`,
	RunE: runSession,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize collected material and recorded activity",
	RunE:  showStats,
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Force-flush any buffered knowledge entries to disk",
	RunE:  flushStore,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory (holds .nightshift/)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug-level CLI logging")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "randomness seed (0 = time-based)")

	rootCmd.AddCommand(runCmd, statsCmd, flushCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	if err := logging.Initialize(workspace, logging.Settings{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return err
	}
	defer logging.CloseAll()

	profile, err := config.LoadProfile(workspace)
	if err != nil {
		return err
	}
	watcher, err := config.NewProfileWatcher(workspace, profile)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		logger.Warn("profile hot reload unavailable", zap.Error(err))
	}
	defer watcher.Stop()

	budget, err := cfg.TimeBudget()
	if err != nil {
		return err
	}
	cooldown, err := cfg.CreationCooldown()
	if err != nil {
		return err
	}
	flushInterval, err := cfg.FlushInterval()
	if err != nil {
		return err
	}
	planTimeout, err := cfg.PlanTimeout()
	if err != nil {
		return err
	}
	llmTimeout, err := cfg.LLMTimeout()
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(seedOrNow()))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := knowledge.Open(cfg.KnowledgePath(workspace), cfg.Knowledge.BufferSize, flushInterval,
		knowledge.WithRand(rng))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.ForceFlush(); err != nil {
			logger.Warn("final flush failed", zap.Error(err))
		}
	}()

	rec, err := recorder.Open(workspace)
	if err != nil {
		return err
	}
	defer rec.Close()

	reasoner, err := reasoning.New(ctx, cfg.LLM.APIKey, cfg.LLM.Model, llmTimeout)
	if err != nil {
		return err
	}

	logger.Info("connecting to browser",
		zap.Bool("headless", cfg.Browser.Headless),
		zap.String("debugger_url", cfg.Browser.DebuggerURL))
	session, err := browser.Connect(ctx, cfg.Browser, profile.BaseURL)
	if err != nil {
		return err
	}
	defer session.Close()

	driver := browser.NewDriver(session, watcher, rng)
	healer := recovery.NewAgent(driver, reasoner, rec, planTimeout, cfg.Recovery.MaxPlanSteps)
	runner := cycle.NewRunner(driver, reasoner, store, watcher, rec, cfg.Cycle, rng)
	pipeline, err := creation.New(workspace, store, reasoner, driver, watcher)
	if err != nil {
		return err
	}

	sup := supervisor.New(runner, healer, store, pipeline, driver, rec,
		cfg.Session, budget, cooldown, supervisor.WithRand(rng))

	logger.Info("session starting",
		zap.Duration("budget", budget),
		zap.Int("creation_threshold", cfg.Session.CreationThreshold))
	if err := sup.Run(ctx); err != nil {
		return err
	}
	logger.Info("session finished",
		zap.Int("cycles", sup.Session.CyclesRun),
		zap.Int("drafts", sup.Session.DraftsProduced))
	return nil
}

func showStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	flushInterval, err := cfg.FlushInterval()
	if err != nil {
		return err
	}
	store, err := knowledge.Open(cfg.KnowledgePath(workspace), cfg.Knowledge.BufferSize, flushInterval)
	if err != nil {
		return err
	}

	out := struct {
		Knowledge knowledge.Stats          `json:"knowledge"`
		Actions   map[string]int           `json:"actions"`
		Errors    int                      `json:"errors"`
		Recovery  recorder.RecoverySummary `json:"recovery"`
	}{
		Knowledge: store.Summarize(),
		Actions:   map[string]int{},
	}

	rec, err := recorder.Open(workspace)
	if err == nil {
		defer rec.Close()
		for _, kind := range []string{"like", "save", "comment", "publish"} {
			if n, err := rec.ActionCount(kind); err == nil && n > 0 {
				out.Actions[kind] = n
			}
		}
		if n, err := rec.ErrorCount(); err == nil {
			out.Errors = n
		}
		if s, err := rec.Recoveries(); err == nil {
			out.Recovery = s
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func flushStore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	flushInterval, err := cfg.FlushInterval()
	if err != nil {
		return err
	}
	store, err := knowledge.Open(cfg.KnowledgePath(workspace), cfg.Knowledge.BufferSize, flushInterval)
	if err != nil {
		return err
	}
	if err := store.ForceFlush(); err != nil {
		return err
	}
	fmt.Println("flushed")
	return nil
}

func seedOrNow() int64 {
	if seed != 0 {
		return seed
	}
	return time.Now().UnixNano()
}
