// Package logging provides a tiny abstraction over slog so downstream code
// depends on a minimal interface (Logger) while callers can plug any
// structured logger. Constructors across the module default to NoOpLogger,
// keeping logging out of the way in tests.
package logging
