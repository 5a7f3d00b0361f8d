/*
Package log provides structured logging for the vantage6 coordinator and
node agent using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("coordinator")             │          │
	│  │  - WithNodeID("node-abc123")                │          │
	│  │  - WithTaskID("task-def456")                │          │
	│  │  - WithRunID("run-789")                     │          │
	│  │  - WithCollaborationID("collab-1")          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "coordinator",              │          │
	│  │    "time": "2026-01-13T10:30:00Z",          │          │
	│  │    "message": "task submitted"              │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-01-13T10:30:00Z INF task submitted component=coordinator │    │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithNodeID: Add node ID context
  - WithTaskID: Add task ID context
  - WithRunID: Add run ID context
  - WithCollaborationID: Add collaboration ID context

# Usage

Initializing the logger:

	import "github.com/vantage6/vantage6-sub004/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Component loggers:

	coordLog := log.WithComponent("coordinator")
	coordLog.Info().Msg("task submitted")

	runLog := log.WithRunID(run.ID).With().Str("task_id", run.TaskID).Logger()
	runLog.Error().Err(err).Msg("run failed")

# Integration Points

This package integrates with:

  - pkg/coordinator: logs task submission, run patching, and cleanup sweeps
  - pkg/node: logs the boot sequence, worker pool, and socket reconnects
  - pkg/api: logs request handling and auth failures
  - pkg/socket: logs broadcast drops and failed socket writes
  - pkg/runtime: logs container pull/run/wait/stop

# Security

Log Content:
  - Never log secrets, api_keys, JWT signing keys, or decrypted payloads
  - Log ciphertext lengths, not ciphertext itself, for run input/result
  - Use structured fields (.Str, .Int) instead of string concatenation
    so user-controlled values can't forge log lines
*/
package log
