package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/boxos/boxcore/internal/clock"
	"github.com/boxos/boxcore/internal/config"
	"github.com/boxos/boxcore/internal/deck"
	"github.com/boxos/boxcore/internal/journal"
	"github.com/boxos/boxcore/internal/logging"
	"github.com/boxos/boxcore/internal/machine"
	"github.com/boxos/boxcore/internal/router"
	"github.com/boxos/boxcore/internal/sched"
	"github.com/boxos/boxcore/internal/streaming"
	"github.com/boxos/boxcore/internal/timer"
	"github.com/boxos/boxcore/internal/transport"
	"github.com/boxos/boxcore/internal/validation"
	"github.com/boxos/boxcore/internal/workflow"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the routing core",
	Long: `Start the routing core: wire the decks, load the configured workflow
documents, start each one, and run machine passes until interrupted.

Examples:
  boxcore run
  boxcore run -c boxcore.yaml
  boxcore run --once`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Exit when all started workflows finish")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if cfg.Format == "json" {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(logging.NewCorrelationHandler(inner))
}

// workflowRunner instantiates a registered document per run. Instance names
// carry a run counter because the engine rejects duplicate names.
type workflowRunner struct {
	engine *workflow.Engine
	docs   map[string]*validation.WorkflowDoc
	runs   atomic.Uint64
}

func (r *workflowRunner) Run(ctx context.Context, name string) error {
	_, err := r.start(ctx, name)
	return err
}

func (r *workflowRunner) start(ctx context.Context, name string) (uint64, error) {
	doc, ok := r.docs[name]
	if !ok {
		return 0, fmt.Errorf("workflow %q is not loaded", name)
	}
	templates, err := doc.Templates()
	if err != nil {
		return 0, err
	}
	instance := fmt.Sprintf("%s#%d", name, r.runs.Add(1))
	id, err := r.engine.Register(ctx, instance, doc.Route, templates)
	if err != nil {
		return 0, err
	}
	return id, r.engine.Start(ctx, id)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
	}()

	clk := clock.NewMonotonic()
	in := transport.NewEventRing()
	out := transport.NewResponseRing()
	hub := streaming.NewMemoryHub()

	rt := router.New(clk, out, logger,
		router.WithHub(hub),
		router.WithPoolSize(cfg.Core.PoolSize),
	)
	timers := timer.NewTable(clk, rt, logger, hub, timer.WithCapacity(cfg.Core.TimerCapacity))

	deckOpts := func() []deck.Option {
		return []deck.Option{
			deck.WithQueueCapacity(cfg.Core.DeckQueueCapacity),
			deck.WithBreaker(deck.NewBreaker(clk, cfg.Breaker.FailureThreshold, cfg.Breaker.CooldownTicks)),
		}
	}
	reg := deck.NewRegistry(logger)
	hw := deck.NewHardware(rt, timers, clk, newTermConsole(os.Stdout), newStdinKeyboard(os.Stdin), nil, logger)
	if err := reg.Register(hw.Deck(deckOpts()...)); err != nil {
		return err
	}
	st := deck.NewStorage(rt, deck.NewMemStore(), logger)
	if err := reg.Register(st.Deck(deckOpts()...)); err != nil {
		return err
	}
	rt.SetDispatcher(reg)

	engine := workflow.NewEngine(rt, logger, hub)
	rt.SetObserver(engine)

	if cfg.Journal.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0o755); err != nil {
			return err
		}
		j, err := journal.Open("file:"+cfg.Journal.Path, logger)
		if err != nil {
			return err
		}
		defer j.Close()
		stop, err := j.Attach(ctx, hub)
		if err != nil {
			return err
		}
		defer stop()
		logger.Info("journal attached", slog.String("path", cfg.Journal.Path), slog.String("run_id", j.RunID()))
	}

	validator, err := validation.NewValidator()
	if err != nil {
		return err
	}
	runner := &workflowRunner{engine: engine, docs: make(map[string]*validation.WorkflowDoc)}
	for _, path := range cfg.Workflows {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read workflow %s: %w", path, err)
		}
		doc, err := validator.Parse(raw)
		if err != nil {
			return fmt.Errorf("workflow %s: %w", path, err)
		}
		if _, ok := runner.docs[doc.Name]; ok {
			return fmt.Errorf("workflow %s: duplicate name %q", path, doc.Name)
		}
		runner.docs[doc.Name] = doc
		logger.Info("workflow loaded", slog.String("name", doc.Name), slog.String("path", path))
	}

	scheduler := sched.NewScheduler(runner, logger)
	for _, job := range cfg.Jobs {
		if _, ok := runner.docs[job.Workflow]; !ok {
			return fmt.Errorf("job %q references unknown workflow %q", job.ID, job.Workflow)
		}
		if err := scheduler.AddJob(job.ID, job.Workflow, job.Cron); err != nil {
			return err
		}
		if job.Disabled {
			if err := scheduler.SetEnabled(job.ID, false); err != nil {
				return err
			}
		}
	}

	m := machine.New(in, out, rt, reg, timers, logger,
		machine.WithScheduler(scheduler),
		machine.WithPassInterval(time.Duration(cfg.Core.PassIntervalMillis)*time.Millisecond),
	)

	// Every loaded workflow runs once at boot; cron jobs handle re-runs.
	started := make([]uint64, 0, len(runner.docs))
	names := make([]string, 0, len(runner.docs))
	for name := range runner.docs {
		id, err := runner.start(ctx, name)
		if err != nil {
			return err
		}
		started = append(started, id)
		names = append(names, name)
	}
	if len(names) > 0 {
		logger.Info("workflows started", slog.String("names", strings.Join(names, ",")))
	}

	if runOnce {
		return runUntilDone(ctx, m, engine, started)
	}
	m.Run(ctx)
	return nil
}

// runUntilDone passes until every boot workflow reaches a terminal state.
func runUntilDone(ctx context.Context, m *machine.Machine, engine *workflow.Engine, ids []uint64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.RunPass(ctx) == 0 {
			time.Sleep(machine.DefaultPassInterval)
		}
		done := true
		failed := false
		for _, id := range ids {
			snap, err := engine.Status(id)
			if err != nil {
				return err
			}
			done = done && snap.Done
			failed = failed || snap.Failed
		}
		if done {
			if failed {
				return fmt.Errorf("one or more workflows failed")
			}
			return nil
		}
	}
}
