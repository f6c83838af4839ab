// Package logging constructs the process-wide slog logger. It offers a
// human-oriented console handler (color when attached to a terminal) and a
// JSON handler for machine consumption, optionally teeing both to a log file.
package logging
