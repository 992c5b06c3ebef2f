// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// CommandAsk caps the wait for a cart entity to reply to a command.
const CommandAsk = 5 * time.Second

// HealthDial caps the wait time when dialing a peer health endpoint.
const HealthDial = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers and telemetry wait for in-flight work
// during graceful shutdown.
const Shutdown = 5 * time.Second
