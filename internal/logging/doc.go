// Package logging configures slog for hybridrank.
//
// Logs are JSON lines written to a size-rotated file under ~/.hybridrank/logs.
// Interactive commands may also mirror them to stderr; the stdio MCP server
// never does, since stdout and stderr belong to the client.
package logging
