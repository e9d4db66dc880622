package command

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/pflag"
)

// ErrUnknownCommand is returned by Registry.Get for unregistered names.
var ErrUnknownCommand = errors.New("command not found")

// Registry manages the collection of available commands.
type Registry struct {
	commands map[string]Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds a command, replacing any command of the same name.
func (r *Registry) Register(cmd Command) {
	r.commands[cmd.Name()] = cmd
}

// Get returns a command by name.
func (r *Registry) Get(name string) (Command, error) {
	if cmd, exists := r.commands[name]; exists {
		return cmd, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
}

// List returns the sorted command names.
func (r *Registry) List() []string {
	return slices.Sorted(maps.Keys(r.commands))
}

// Dispatch parses args for the named command and executes it. A --help flag
// prints the command's usage instead.
func (r *Registry) Dispatch(name string, args []string, stdout, stderr io.Writer) error {
	cmd, err := r.Get(name)
	if err != nil {
		return err
	}
	fs := newFlagSet(cmd, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	return cmd.Execute(fs, fs.Args(), stdout, stderr)
}

func newFlagSet(cmd Command, output io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(cmd.Name(), pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		_, _ = fmt.Fprintln(output, usageLine(cmd))
		_, _ = fmt.Fprintf(output, "\n%s\n", cmd.Description())
		if usages := fs.FlagUsages(); usages != "" {
			_, _ = fmt.Fprintf(output, "\nOptions:\n%s", usages)
		}
	}
	cmd.SetupFlags(fs)
	return fs
}
