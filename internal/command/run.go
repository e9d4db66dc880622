package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/actionflow/internal/config"
	"github.com/joeycumines/actionflow/internal/exprscore"
	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/script"
	"github.com/joeycumines/actionflow/internal/treeaction"
	"github.com/joeycumines/actionflow/internal/treedef"
)

// ErrTreeFailed is returned by the run command when the tree completed with
// Failure.
var ErrTreeFailed = errors.New("tree failed")

const scriptKind = "script"

var lookupEnv = os.LookupEnv

// RunCommand runs one tree to completion.
type RunCommand struct {
	*BaseCommand
	config  *config.Config
	kinds   *treedef.Kinds
	environ map[string]string

	logLevel   string
	asyncOrder string
	asyncMode  string
	timeout    time.Duration
	tick       time.Duration
	trace      bool
	debug      bool
	telemetry  bool
}

// NewRunCommand creates a new run command. environ replaces the process
// environment when resolving settings, nil meaning the real one.
func NewRunCommand(cfg *config.Config, kinds *treedef.Kinds, environ map[string]string) *RunCommand {
	return &RunCommand{
		BaseCommand: NewBaseCommand(
			"run",
			"Run a tree until it succeeds, fails or times out",
			"run [options] <tree.yaml>",
		),
		config:  cfg,
		kinds:   kinds,
		environ: environ,
	}
}

// SetupFlags configures the flags for the run command. Flags that are set
// override the configuration file and environment.
func (c *RunCommand) SetupFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&c.asyncOrder, "async-order", "", "Order async actions are collected in (bfs, dfs)")
	fs.StringVar(&c.asyncMode, "async-mode", "", "How async actions are driven (sequential, unordered)")
	fs.DurationVarP(&c.timeout, "timeout", "t", 0, "Give up after this long")
	fs.DurationVar(&c.tick, "tick", 0, "Interval between engine updates")
	fs.BoolVar(&c.trace, "trace", false, "Print every protocol step to stdout")
	fs.BoolVarP(&c.debug, "debug", "d", false, "Log runs, results and running markers")
	fs.BoolVar(&c.telemetry, "telemetry", false, "Record OpenTelemetry spans and counters")
}

func (c *RunCommand) settings(fs *pflag.FlagSet, tree string) (config.Settings, error) {
	s, err := config.Resolve(c.config, tree, c.environ)
	if err != nil {
		return s, err
	}
	if fs.Changed("log-level") {
		s.LogLevel = c.logLevel
	}
	if fs.Changed("async-order") {
		if _, err := flow.ParseOrder(c.asyncOrder); err != nil {
			return s, err
		}
		s.AsyncOrder = c.asyncOrder
	}
	if fs.Changed("async-mode") {
		if c.asyncMode != "sequential" && c.asyncMode != "unordered" {
			return s, fmt.Errorf("invalid async mode %q (want sequential or unordered)", c.asyncMode)
		}
		s.AsyncMode = c.asyncMode
	}
	if fs.Changed("timeout") {
		s.Timeout = c.timeout
	}
	if fs.Changed("tick") {
		s.TickInterval = c.tick
	}
	if fs.Changed("debug") && c.debug {
		s.DebugRun, s.DebugResult, s.DebugRunning = true, true, true
	}
	if fs.Changed("telemetry") {
		s.Telemetry = c.telemetry
	}
	return s, nil
}

// Execute runs the tree.
func (c *RunCommand) Execute(fs *pflag.FlagSet, args []string, stdout, stderr io.Writer) error {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(stderr, "expected exactly one tree file")
		return fmt.Errorf("invalid arguments")
	}
	tree, err := treedef.Load(args[0])
	if err != nil {
		return err
	}
	s, err := c.settings(fs, tree.Name)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(s, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	exprscore.SetCacheSize(s.ExprCacheSize)
	e := flow.NewEngine(
		flow.WithLogger(logger),
		flow.WithDebug(s.Debug()),
		flow.WithTelemetry(s.Telemetry),
	)
	if c.trace {
		e.Observe(func(tr flow.Trace) {
			_, _ = fmt.Fprintf(stdout, "%-12s %s <- %s %T %v\n", tr.Phase, e.NameOf(tr.Action), e.NameOf(tr.Origin), tr.Payload, tr.Payload)
		})
	}

	ctx := context.Background()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	opts := treedef.Options{Kinds: c.kinds}
	if tree.Uses(scriptKind) {
		bridge, stop, err := openBridge(ctx, logger, s.ScriptTimeout)
		if err != nil {
			return err
		}
		defer stop()
		opts.Bridge = bridge
	}
	sp, err := tree.Spawn(e, opts)
	if err != nil {
		return err
	}
	if opts.Bridge != nil {
		if err := opts.Bridge.ExposeBlackboard("blackboard", sp.Blackboard); err != nil {
			return err
		}
	}

	res, err := runTree(ctx, e, sp, s, logger)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "%s: %s\n", e.NameOf(sp.Root), res)
	if res != flow.Success {
		return ErrTreeFailed
	}
	return nil
}

// runTree ticks the root with a treeaction.Runner while a second goroutine
// drives async actions, serialized with the ticks through Runner.Do.
func runTree(ctx context.Context, e *flow.Engine, sp *treedef.Spawned, s config.Settings, logger *slog.Logger) (flow.RunResult, error) {
	runner := treeaction.NewRunner(e, s.TickInterval)
	defer runner.Stop()

	g, gctx := errgroup.WithContext(ctx)
	driveCtx, stopDriving := context.WithCancel(gctx)
	defer stopDriving()

	id, err := runner.Start(gctx, sp.Root)
	if err != nil {
		return flow.Failure, err
	}
	logger.Info("flowctl: running tree", "run", id, "tree", e.NameOf(sp.Root))

	drive := flow.DriveSequential
	if s.Unordered() {
		drive = flow.DriveUnordered
	}
	order := s.Order()
	g.Go(func() error {
		ticker := time.NewTicker(s.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-driveCtx.Done():
				return nil
			case <-e.Wake():
			case <-ticker.C:
			}
			var err error
			runner.Do(func(e *flow.Engine) {
				err = drive(driveCtx, e, flow.CollectAsync(e, order))
			})
			if err != nil && driveCtx.Err() == nil {
				return err
			}
		}
	})

	res, waitErr := runner.Wait(gctx, sp.Root)
	stopDriving()
	if err := g.Wait(); err != nil {
		return flow.Failure, err
	}
	if waitErr != nil {
		return flow.Failure, fmt.Errorf("tree %s: %w", e.NameOf(sp.Root), waitErr)
	}
	return res, nil
}

func newLogger(s config.Settings, stderr io.Writer) (*slog.Logger, func(), error) {
	level, err := config.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if s.LogFile == "" {
		return slog.New(slog.NewTextHandler(stderr, opts)), func() {}, nil
	}
	f, err := os.OpenFile(s.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return slog.New(slog.NewJSONHandler(f, opts)), func() { _ = f.Close() }, nil
}

// openBridge starts an event loop and a script bridge on it. A positive
// timeout replaces the bridge default.
func openBridge(ctx context.Context, logger *slog.Logger, timeout time.Duration) (*script.Bridge, func(), error) {
	reg := require.NewRegistry()
	loop := eventloop.NewEventLoop(eventloop.WithRegistry(reg))
	loop.Start()
	bridge, err := script.NewBridge(ctx, loop, reg, logger)
	if err != nil {
		loop.Stop()
		return nil, nil, err
	}
	if timeout > 0 {
		bridge.SetTimeout(timeout)
	}
	return bridge, func() {
		bridge.Stop()
		loop.Stop()
	}, nil
}
