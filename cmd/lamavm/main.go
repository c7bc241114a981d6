// Command lamavm loads a compiled bytecode image and executes it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lamavm/vm"
)

var (
	debugMode bool
	entryName string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lamavm <image>",
		Short:         "Run a compiled bytecode image",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImage(args[0])
		},
	}
	cmd.Flags().BoolVar(&debugMode, "debug", false, "log every executed instruction")
	cmd.Flags().StringVar(&entryName, "entry", "", "run from this public symbol instead of code offset 0")
	return cmd
}

func runImage(path string) error {
	img, err := vm.LoadImage(path)
	if err != nil {
		return err
	}

	logger, err := vm.NewLogger(debugMode)
	if err != nil {
		return fmt.Errorf("setting up logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	machine := vm.NewVirtualMachine(img, logger)
	if entryName != "" {
		sym, ok := img.PublicByName(entryName)
		if !ok {
			return fmt.Errorf("no public symbol named %q", entryName)
		}
		machine.Seek(sym.CodeOffset)
	}

	if debugMode {
		return machine.RunProgramDebugMode()
	}
	return machine.RunProgram()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
