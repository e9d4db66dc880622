// Package command implements the flowctl subcommands.
package command

import (
	"io"

	"github.com/spf13/pflag"
)

// program prefixes every usage line.
const program = "flowctl"

// Command is one flowctl subcommand.
type Command interface {
	Name() string
	// Description is the one-line summary shown by help.
	Description() string
	// Usage is the synopsis following the program name.
	Usage() string

	// SetupFlags binds the command's flags. It is called once per dispatch,
	// before parsing.
	SetupFlags(fs *pflag.FlagSet)

	// Execute runs the command with the arguments left after flag parsing.
	// fs is the parsed flag set, so commands can check which flags were set.
	Execute(fs *pflag.FlagSet, args []string, stdout, stderr io.Writer) error
}

// BaseCommand holds the descriptive part of a Command, for embedding. It
// defines no flags.
type BaseCommand struct {
	name, description, usage string
}

// NewBaseCommand creates a new BaseCommand.
func NewBaseCommand(name, description, usage string) *BaseCommand {
	return &BaseCommand{name: name, description: description, usage: usage}
}

func (c *BaseCommand) Name() string        { return c.name }
func (c *BaseCommand) Description() string { return c.description }
func (c *BaseCommand) Usage() string       { return c.usage }

func (c *BaseCommand) SetupFlags(*pflag.FlagSet) {}

// usageLine renders "Usage: flowctl <synopsis>".
func usageLine(cmd Command) string {
	return "Usage: " + program + " " + cmd.Usage()
}
