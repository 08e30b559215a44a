package slogx

import "log/slog"

// Error returns a slog.Attr representing the provided error.
// The attribute key is "error" and the value is the error's message.
func Error(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// RunID returns a slog.Attr carrying a run identifier under the "run_id" key
// so log lines from the same run group together.
func RunID(id string) slog.Attr {
	return slog.String("run_id", id)
}

// Tool returns a slog.Attr carrying a fully qualified tool name under the
// "tool" key.
func Tool(name string) slog.Attr {
	return slog.String("tool", name)
}

// Provider returns a slog.Attr carrying a tool provider name under the
// "provider" key.
func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}
