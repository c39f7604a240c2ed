// Package logging builds the process logger and holds the attribute helpers
// used across calmcp.
//
// The serve command logs JSON to stderr on the stdio transport, where stdout
// carries the MCP protocol, and text otherwise:
//
//	logger := logging.New(os.Stderr, logging.FormatJSON, debug)
//	logger = logging.WithCall(logger, "create_event", callID)
//	logger.Debug("transition", logging.State("validated"))
//
// User e-mail addresses go through UserHash, and any attribute whose key
// names a token, secret or password is masked by the handler itself.
package logging
