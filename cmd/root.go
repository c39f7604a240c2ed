package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Exit codes returned by Execute.
const (
	ExitOK = 0
	// ExitError covers flag, config and transport errors.
	ExitError = 1
	// ExitCallFailed means dispatch printed a validation_error or
	// backend_error result.
	ExitCallFailed = 2
)

var version = "dev"

// SetVersion records the build version shown by --version and the version
// command.
func SetVersion(v string) {
	version = v
}

// NewRootCmd assembles the calmcp command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "calmcp",
		Short: "Calendar tools for AI agents over MCP",
		Long: `calmcp turns an agent's calendar tool calls into safe calendar writes.

Each create, update, delete or query call has its times normalized, is checked
for conflicts with the existing calendar, is deduplicated against recent
identical calls and is then applied to Google Calendar or a CalDAV server.

Run it as an MCP server for AI assistants (serve, the default) or for a single
tool call from a shell (dispatch).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("calmcp version {{.Version}}\n")
	root.AddCommand(
		newServeCmd(),
		newDispatchCmd(),
		newGenerateDocsCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line in args (without the program name) and
// returns the process exit code. No arguments means serve.
func Execute(args []string, stderr io.Writer) int {
	if len(args) == 0 {
		args = []string{"serve"}
	}
	root := NewRootCmd()
	root.SetArgs(args)

	err := root.Execute()
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errCallFailed):
		// The result is already on stdout.
		return ExitCallFailed
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitError
	}
}
