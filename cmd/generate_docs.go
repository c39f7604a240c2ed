package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"text/template"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"

	"github.com/teemow/calmcp/internal/config"
	"github.com/teemow/calmcp/internal/resources"
)

const (
	categoryCalendar = "Calendar Tools"
	categoryOther    = "Other"
)

var docsTemplate = template.Must(template.New("docs").Funcs(template.FuncMap{
	"anchor": func(s string) string { return strings.ToLower(strings.ReplaceAll(s, " ", "-")) },
	"tool":   generateToolMarkdown,
}).Parse(`# MCP Tools Reference

This document lists every tool calmcp serves over MCP. It is generated from the tool definitions; edit those, not this file.

## Table of Contents

{{range .Categories}}- [{{.Name}}](#{{anchor .Name}})
{{end}}
## Accounts

Every tool takes an optional ` + "`account`" + ` argument naming the calendar credential to use:

- An account forwarded by the authenticating proxy always wins
- Otherwise the argument is used, then the account bound to the session, then ` + "`default`" + `
- Per-call choice: each call may name a different account

## Results

Every tool returns a JSON object whose ` + "`status`" + ` is one of ` + "`committed`, `conflict`, `queried`, `validation_error` or `backend_error`" + `. Only the two error statuses are flagged as tool errors; a ` + "`conflict`" + ` carries the overlapping events and suggested alternative slots.

Write tools are only registered when the server runs with ` + "`--yolo`" + `.

## Resources

- ` + "`{{.PolicyURI}}`" + `: the active scheduling and conflict policy as JSON
{{range .Categories}}
## {{.Name}}

{{range .Tools}}{{tool .}}
{{end}}{{end}}`))

type docsCategory struct {
	Name  string
	Tools []mcp.Tool
}

type docsData struct {
	Categories []docsCategory
	PolicyURI  string
}

func newGenerateDocsCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Render markdown documentation for the MCP tools from the registered
tool definitions, so the reference never drifts from the implementation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(outputFile, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

// runGenerateDocs registers the full tool set against the memory backend,
// which needs no credentials, and renders it.
func runGenerateDocs(outputFile string, out io.Writer) error {
	cfg := config.Default()
	cfg.Backend = config.BackendMemory

	sc, err := buildApp(context.Background(), appOptions{
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return err
	}
	defer func() { _ = sc.Shutdown() }()

	mcpSrv, err := newMCPServer(sc)
	if err != nil {
		return err
	}
	var tools []mcp.Tool
	for _, st := range mcpSrv.ListTools() {
		tools = append(tools, st.Tool)
	}

	var sb strings.Builder
	if err := docsTemplate.Execute(&sb, docsData{
		Categories: categorize(tools),
		PolicyURI:  resources.PolicyURI,
	}); err != nil {
		return fmt.Errorf("failed to render documentation: %w", err)
	}

	if outputFile == "" {
		_, err = io.WriteString(out, sb.String())
		return err
	}
	if err := os.WriteFile(outputFile, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
	return nil
}

// categorize groups tools by category. Categories and the tools in each are
// sorted by name.
func categorize(tools []mcp.Tool) []docsCategory {
	byName := map[string][]mcp.Tool{}
	for _, t := range tools {
		c := getCategoryFromToolName(t.Name)
		byName[c] = append(byName[c], t)
	}

	out := make([]docsCategory, 0, len(byName))
	for name, ts := range byName {
		slices.SortFunc(ts, func(a, b mcp.Tool) int { return strings.Compare(a.Name, b.Name) })
		out = append(out, docsCategory{Name: name, Tools: ts})
	}
	slices.SortFunc(out, func(a, b docsCategory) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// getCategoryFromToolName files tools acting on events (create_event,
// query_events) under the calendar category.
func getCategoryFromToolName(name string) string {
	i := strings.LastIndex(name, "_")
	switch name[i+1:] {
	case "event", "events":
		return categoryCalendar
	}
	return categoryOther
}

func generateToolMarkdown(tool mcp.Tool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s\n\n", tool.Name)
	if tool.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", tool.Description)
	}
	if hints := toolHints(tool); len(hints) > 0 {
		fmt.Fprintf(&sb, "**Hints:** %s\n\n", strings.Join(hints, ", "))
	}

	props := tool.InputSchema.Properties
	if len(props) == 0 {
		return sb.String()
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	slices.Sort(names)

	sb.WriteString("**Arguments:**\n")
	for _, name := range names {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		presence := "optional"
		if slices.Contains(tool.InputSchema.Required, name) {
			presence = "required"
		}
		desc, _ := prop["description"].(string)
		if desc == "" {
			desc = propertyType(prop) + " parameter"
		}
		fmt.Fprintf(&sb, "- `%s` (%s): %s\n", name, presence, desc)
	}
	sb.WriteString("\n")
	return sb.String()
}

func propertyType(prop map[string]any) string {
	if t, ok := prop["type"].(string); ok {
		return t
	}
	return "any"
}

func toolHints(tool mcp.Tool) []string {
	a := tool.Annotations
	var hints []string
	for _, h := range []struct {
		set  *bool
		name string
	}{
		{a.ReadOnlyHint, "read-only"},
		{a.DestructiveHint, "destructive"},
		{a.IdempotentHint, "idempotent"},
	} {
		if h.set != nil && *h.set {
			hints = append(hints, h.name)
		}
	}
	return hints
}
