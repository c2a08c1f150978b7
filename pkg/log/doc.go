/*
Package log provides structured logging for Ledgertap built on zerolog.

# Usage

A single root logger is configured once at startup, then every
component derives a child carrying its identifying fields:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("writer")
	logger.Info().Int("records", n).Msg("Committed batch")

# Field Conventions

	component    - which pipeline component wrote the line
	               (supervisor, writer, api, feed, main)
	interest_id  - the interest a line concerns
	generation   - the worker generation, via WithWorker
	topic        - stream topic, via WithTopic

Workers log through WithWorker so every line carries the interest_id
and generation that produced it - that pairing is what makes retirement
races debuggable from logs alone.

# Output

Console output with RFC3339 timestamps is the default; JSONOutput
switches to raw zerolog JSON for machine ingestion. The uninitialized
logger is a no-op, so library code never panics for logging before
Init.

Level accepts debug, info, warn, error (case-insensitive); anything
else falls back to info.
*/
package log
