// Package config loads, validates and persists promptenhance settings.
//
// Settings live in a single JSON document with the sections ollama, prompt,
// ui, logging and performance. Every value is range checked when a Config is
// built, loaded or updated; out of range values are rejected with a
// *ValidationError and never clamped.
//
// A Store owns one file on disk. It writes the defaults on first load, merges
// partial updates into the current settings and serializes saves across
// processes with a lock file.
package config
