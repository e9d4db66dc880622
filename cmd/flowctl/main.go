// Command flowctl runs behavior trees defined in YAML.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joeycumines/actionflow/internal/command"
	"github.com/joeycumines/actionflow/internal/config"
	"github.com/joeycumines/actionflow/internal/treedef"
)

const version = "0.1.0"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, command.ErrTreeFailed) {
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	kinds := treedef.DefaultKinds()

	registry := command.NewRegistry()
	registry.Register(command.NewHelpCommand(registry))
	registry.Register(command.NewVersionCommand(version))
	registry.Register(command.NewConfigCommand(cfg, nil))
	registry.Register(command.NewKindsCommand(kinds))
	registry.Register(command.NewValidateCommand(kinds))
	registry.Register(command.NewRunCommand(cfg, kinds, nil))

	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		return registry.Dispatch("help", nil, stdout, stderr)
	}
	if err := registry.Dispatch(args[0], args[1:], stdout, stderr); err != nil {
		if errors.Is(err, command.ErrUnknownCommand) {
			_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
			_, _ = fmt.Fprintln(stderr, "Use 'flowctl help' to see available commands.")
		}
		return err
	}
	return nil
}
