// Package cmd holds the calmcp command tree: serve (the default) runs the MCP
// server over stdio or streamable HTTP, dispatch runs one tool call from a
// shell, generate-docs renders the tool reference and version prints build
// information.
//
// Execute returns the process exit code; a dispatch call whose result is a
// validation or backend error exits with ExitCallFailed.
package cmd
