package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/hmr/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ╦ ╦╔╦╗╦═╗
  ╠═╣║║║╠╦╝
  ╩ ╩╩ ╩╩╚═
`

func main() {
	if err := rootCmd().Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hmr",
		Short: "Hot module runtime development tools",
		Long: `hmr serves hot module updates to running programs.

The dev server watches the module manifest your compiler writes,
turns every change into an update generation and pushes it to
attached runtimes. Features include:

  • Patch-in-place updates with full reload fallback
  • Update history with replay for reconnecting clients
  • Memory, disk or S3 history storage
  • Prometheus metrics`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		initCmd(),
		serveCmd(),
		inspectCmd(),
		versionCmd(),
	)
	return cmd
}

// printBanner prints the ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
