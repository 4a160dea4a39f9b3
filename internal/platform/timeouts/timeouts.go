// Package timeouts defines shared timeout constants used across the servers.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second

// ScoreStore caps a single score store read or write.
const ScoreStore = 2 * time.Second

// WebsocketWrite caps the write of one websocket frame.
const WebsocketWrite = 5 * time.Second

// ICMPRead bounds one blocking read on an ICMP socket so Serve can notice
// cancellation.
const ICMPRead = time.Second
