// Package logging configures structured slog logging for the retrieval engine.
//
// Logs are JSON lines written to a size-rotated file under ~/.tavren/logs/.
// Serving over stdio never writes logs to stdout or stderr, because the MCP
// transport owns those streams.
package logging
