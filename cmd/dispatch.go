package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/teemow/calmcp/internal/dispatcher"
)

// errCallFailed is returned when the dispatcher reports a validation or
// backend error, so the process exits non-zero after printing the result.
var errCallFailed = errors.New("tool call failed")

type dispatchOptions struct {
	Args       string
	ConfigPath string
	Backend    string
	Timezone   string
	Account    string
	Session    string
	CallID     string
	Yolo       bool
	Debug      bool
}

func newDispatchCmd() *cobra.Command {
	var opts dispatchOptions

	cmd := &cobra.Command{
		Use:   "dispatch <tool>",
		Short: "Run a single tool call and print its result",
		Long: `Run one calendar tool call through the dispatcher without starting an MCP
server, and print the result as JSON.

Examples:
  calmcp dispatch query_events --args '{"from":"2030-06-10","to":"2030-06-14"}'
  calmcp dispatch create_event --yolo --args '{"title":"Standup","start":"2030-06-10T09:00:00","timezone":"Europe/Berlin"}'`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: operationNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runDispatch(ctx, args[0], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "{}", "Tool arguments as a JSON object")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "Path to the YAML config file")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "Calendar backend: google, caldav or memory (overrides config)")
	cmd.Flags().StringVar(&opts.Timezone, "timezone", "", "Default IANA timezone (overrides config)")
	cmd.Flags().StringVar(&opts.Account, "account", "", "Account whose calendar is used")
	cmd.Flags().StringVar(&opts.Session, "session", "cli", "Session the call is scoped to for replay detection")
	cmd.Flags().StringVar(&opts.CallID, "call-id", "", "Call identifier recorded on created events (default: random)")
	cmd.Flags().BoolVar(&opts.Yolo, "yolo", false, "Allow write tools")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "Enable debug logging")

	return cmd
}

func operationNames() []string {
	names := make([]string, 0, len(dispatcher.Operations))
	for _, op := range dispatcher.Operations {
		names = append(names, string(op))
	}
	return names
}

func runDispatch(ctx context.Context, tool string, opts dispatchOptions, out io.Writer) error {
	op := dispatcher.Operation(tool)
	if !slices.Contains(dispatcher.Operations, op) {
		return fmt.Errorf("unknown tool %q (supported: %v)", tool, operationNames())
	}
	if !op.ReadOnly() && !opts.Yolo {
		return fmt.Errorf("%s writes to the calendar; pass --yolo to allow it", tool)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(opts.Args), &args); err != nil {
		return fmt.Errorf("invalid --args: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}

	cfg, err := loadConfig(opts.ConfigPath, configOverrides{
		Backend:  opts.Backend,
		Timezone: opts.Timezone,
	})
	if err != nil {
		return err
	}

	sc, err := buildApp(ctx, appOptions{
		Config:   cfg,
		Logger:   newLogger("cli", opts.Debug),
		ReadOnly: !opts.Yolo,
	})
	if err != nil {
		return err
	}
	defer func() { _ = sc.Shutdown() }()

	callID := opts.CallID
	if callID == "" {
		callID = uuid.NewString()
	}
	res, err := sc.Dispatch(ctx, dispatcher.ToolCall{
		ID:        callID,
		Operation: op,
		Args:      args,
		IssuedAt:  time.Now(),
		Session:   opts.Session,
		Account:   opts.Account,
	})
	if err != nil {
		return err
	}

	body, err := res.JSON()
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if _, err := fmt.Fprintln(out, string(body)); err != nil {
		return err
	}
	if res.IsError() {
		return errCallFailed
	}
	return nil
}
