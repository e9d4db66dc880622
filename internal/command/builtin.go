package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/joeycumines/actionflow/internal/config"
	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/treedef"
)

// HelpCommand displays help information for commands.
type HelpCommand struct {
	*BaseCommand
	registry *Registry
}

// NewHelpCommand creates a new help command.
func NewHelpCommand(registry *Registry) *HelpCommand {
	return &HelpCommand{
		BaseCommand: NewBaseCommand(
			"help",
			"Display help information for commands",
			"help [command]",
		),
		registry: registry,
	}
}

// Execute displays help information.
func (c *HelpCommand) Execute(_ *pflag.FlagSet, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stdout, "flowctl - run behavior trees defined in YAML")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Usage: flowctl <command> [options] [args...]")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Available commands:")

		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		for _, name := range c.registry.List() {
			if cmd, err := c.registry.Get(name); err == nil {
				_, _ = fmt.Fprintf(w, "  %s\t%s\n", name, cmd.Description())
			}
		}
		_ = w.Flush()

		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Use 'flowctl help <command>' for more information about a specific command.")
		return nil
	}

	cmd, err := c.registry.Get(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		return err
	}
	_, _ = fmt.Fprintf(stdout, "Command: %s\n", cmd.Name())
	_, _ = fmt.Fprintf(stdout, "Description: %s\n", cmd.Description())
	_, _ = fmt.Fprintln(stdout, usageLine(cmd))
	if usages := newFlagSet(cmd, io.Discard).FlagUsages(); usages != "" {
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Flags:")
		_, _ = fmt.Fprint(stdout, usages)
	}
	return nil
}

// VersionCommand displays version information.
type VersionCommand struct {
	*BaseCommand
	version string
}

// NewVersionCommand creates a new version command.
func NewVersionCommand(version string) *VersionCommand {
	return &VersionCommand{
		BaseCommand: NewBaseCommand(
			"version",
			"Display version information",
			"version",
		),
		version: version,
	}
}

// Execute displays version information.
func (c *VersionCommand) Execute(_ *pflag.FlagSet, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	_, _ = fmt.Fprintf(stdout, "flowctl version %s\n", c.version)
	return nil
}

// ConfigCommand shows configuration.
type ConfigCommand struct {
	*BaseCommand
	config  *config.Config
	environ map[string]string
	tree    string
	showAll bool
}

// NewConfigCommand creates a new config command. environ replaces the process
// environment when resolving settings, nil meaning the real one.
func NewConfigCommand(cfg *config.Config, environ map[string]string) *ConfigCommand {
	return &ConfigCommand{
		BaseCommand: NewBaseCommand(
			"config",
			"Show configuration settings",
			"config [options] [key | validate | schema]",
		),
		config:  cfg,
		environ: environ,
	}
}

// SetupFlags configures the flags for the config command.
func (c *ConfigCommand) SetupFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.tree, "tree", "", "Resolve options for the tree with this name")
	fs.BoolVar(&c.showAll, "all", false, "Show the raw file contents, global and per-tree")
}

// Execute shows configuration.
func (c *ConfigCommand) Execute(_ *pflag.FlagSet, args []string, stdout, stderr io.Writer) error {
	switch {
	case len(args) == 0 && c.showAll:
		c.printRaw(stdout)
		return nil
	case len(args) == 0:
		return c.printResolved(stdout)
	case len(args) > 1:
		_, _ = fmt.Fprintln(stderr, "Invalid number of arguments")
		return fmt.Errorf("invalid arguments")
	}

	switch args[0] {
	case "validate":
		return c.executeValidate(stdout)
	case "schema":
		_, _ = fmt.Fprint(stdout, config.DefaultSchema().FormatHelp())
		return nil
	}

	key := args[0]
	schema := config.DefaultSchema()
	opt := schema.Lookup(key)
	if opt == nil {
		_, _ = fmt.Fprintf(stdout, "Configuration key '%s' not found\n", key)
		return nil
	}
	value := schema.Value(c.config, c.tree, key)
	if v, ok := c.lookupEnv(opt.EnvVar); ok {
		value = v
	}
	_, _ = fmt.Fprintf(stdout, "%s: %s\n", key, value)
	return nil
}

func (c *ConfigCommand) lookupEnv(name string) (string, bool) {
	if c.environ != nil {
		v, ok := c.environ[name]
		return v, ok
	}
	return lookupEnv(name)
}

func (c *ConfigCommand) printRaw(stdout io.Writer) {
	_, _ = fmt.Fprintln(stdout, "Global configuration:")
	for _, key := range slices.Sorted(maps.Keys(c.config.Global)) {
		_, _ = fmt.Fprintf(stdout, "  %s: %s\n", key, c.config.Global[key])
	}
	_, _ = fmt.Fprintln(stdout, "\nTree configuration:")
	for _, tree := range slices.Sorted(maps.Keys(c.config.Sections)) {
		_, _ = fmt.Fprintf(stdout, "  [%s]\n", tree)
		opts := c.config.Sections[tree]
		for _, key := range slices.Sorted(maps.Keys(opts)) {
			_, _ = fmt.Fprintf(stdout, "    %s: %s\n", key, opts[key])
		}
	}
}

func (c *ConfigCommand) printResolved(stdout io.Writer) error {
	s, err := config.Resolve(c.config, c.tree, c.environ)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
	for _, line := range []struct {
		key   string
		value any
	}{
		{"flow.async.order", s.AsyncOrder},
		{"flow.async.mode", s.AsyncMode},
		{"flow.debug.run", s.DebugRun},
		{"flow.debug.result", s.DebugResult},
		{"flow.debug.running", s.DebugRunning},
		{"flow.telemetry", s.Telemetry},
		{"flow.tick.interval", s.TickInterval},
		{"flow.timeout", s.Timeout},
		{"script.timeout", s.ScriptTimeout},
		{"exprscore.cache-size", s.ExprCacheSize},
		{"log.level", s.LogLevel},
		{"log.file", s.LogFile},
	} {
		_, _ = fmt.Fprintf(w, "%s\t%v\n", line.key, line.value)
	}
	return w.Flush()
}

func (c *ConfigCommand) executeValidate(stdout io.Writer) error {
	issues := config.ValidateConfig(c.config, config.DefaultSchema())
	if len(issues) == 0 {
		_, _ = fmt.Fprintln(stdout, "Configuration is valid.")
		return nil
	}
	_, _ = fmt.Fprintf(stdout, "Configuration has %d issue(s):\n", len(issues))
	for _, issue := range issues {
		_, _ = fmt.Fprintf(stdout, "  - %s\n", issue)
	}
	return nil
}

// KindsCommand lists the node kinds a tree definition may use.
type KindsCommand struct {
	*BaseCommand
	kinds *treedef.Kinds
}

// NewKindsCommand creates a new kinds command.
func NewKindsCommand(kinds *treedef.Kinds) *KindsCommand {
	return &KindsCommand{
		BaseCommand: NewBaseCommand(
			"kinds",
			"List node kinds and their parameters",
			"kinds",
		),
		kinds: kinds,
	}
}

// Execute lists the kinds.
func (c *KindsCommand) Execute(_ *pflag.FlagSet, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tSHAPE\tPARAMETERS")
	for _, name := range c.kinds.Names() {
		kind, _ := c.kinds.Lookup(name)
		shape := "composite"
		if kind.Leaf {
			shape = "leaf"
		}
		params := "-"
		if len(kind.Params) > 0 {
			params = strings.Join(kind.Params, ", ")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, shape, params)
	}
	return w.Flush()
}

// ValidateCommand checks tree definitions without running them.
type ValidateCommand struct {
	*BaseCommand
	kinds *treedef.Kinds
}

// NewValidateCommand creates a new validate command.
func NewValidateCommand(kinds *treedef.Kinds) *ValidateCommand {
	return &ValidateCommand{
		BaseCommand: NewBaseCommand(
			"validate",
			"Check tree definitions without running them",
			"validate <tree.yaml>...",
		),
		kinds: kinds,
	}
}

// Execute parses and builds every tree, reporting each problem found.
func (c *ValidateCommand) Execute(_ *pflag.FlagSet, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "no tree files given")
		return fmt.Errorf("invalid arguments")
	}
	var failed int
	for _, path := range args {
		if err := c.validate(path); err != nil {
			failed++
			_, _ = fmt.Fprintf(stdout, "%s: %v\n", path, err)
			continue
		}
		_, _ = fmt.Fprintf(stdout, "%s: ok\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tree(s) invalid", failed, len(args))
	}
	return nil
}

func (c *ValidateCommand) validate(path string) error {
	tree, err := treedef.Load(path)
	if err != nil {
		return err
	}
	opts := treedef.Options{Kinds: c.kinds}
	if tree.Uses(scriptKind) {
		// script sources are compiled when first made ready, so an idle
		// bridge is enough to build the nodes
		bridge, stop, err := openBridge(context.Background(), slog.Default(), 0)
		if err != nil {
			return err
		}
		defer stop()
		opts.Bridge = bridge
	}
	_, err = tree.Spawn(flow.NewEngine(), opts)
	return err
}
