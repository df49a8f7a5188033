// Package logging assembles the structured slog loggers used across
// promptenhance.
//
// It owns the JSON and text handlers, maps the configured level names onto
// slog levels and exposes APILogger, which records request, response and
// prompt conversion events when the configuration asks for them. Loggers are
// built once by the entry point and passed down; nothing here is global.
package logging
