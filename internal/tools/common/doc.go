// Package common holds the plumbing shared by the calendar tools: account
// and session resolution, the dispatcher-backed handler and the wrapper that
// adds tracing, metrics and audit logging to every tool.
package common
