// Package storage persists what postpilot must remember between runs:
//
//   - small key/value state (the compose draft, OAuth access tokens)
//   - post history, one record per delivery attempt
//   - duplicate-guard entries for recently published text
//
// Drivers: "file" (JSON files next to each other), "sqlite" and "bolt".
// "memory" keeps everything in process and is used by tests and dry runs.
package storage
