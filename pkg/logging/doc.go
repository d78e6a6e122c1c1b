// Package logging provides the subsystem-tagged structured logging used
// throughout loopauth.
//
// It is a thin layer over Go's log/slog: a single package-level logger is
// configured once at startup and every message carries a "subsystem"
// attribute naming the component that produced it.
//
// # Log Levels
//   - **Debug**: per-attempt details such as individual port bind attempts
//   - **Info**: session lifecycle (bound, browser opened, settled)
//   - **Warn**: recoverable problems such as a browser that failed to open
//   - **Error**: failures that end a session
//
// # Usage Examples
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("CaptureSession", "Listening on port %d", port)
//	logging.Error("Listener", err, "Failed to bind")
//
// JSON output is available for log aggregation:
//
//	logging.Init(logging.LevelDebug, logging.FormatJSON, os.Stderr)
//
// # Sensitive Values
//
// Session secrets and access tokens must never be passed to this package.
// Sessions are correlated through their random session id instead.
//
// # Thread Safety
//
// Logging functions are safe for concurrent use. Init may be called again to
// replace the logger, for example in tests.
package logging
