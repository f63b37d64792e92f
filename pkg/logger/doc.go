// Package logger constructs slog loggers with environment-appropriate
// handlers: JSON in prod, text elsewhere.
package logger
