// Package server implements the HTTP surface of the relay: WebSocket
// upgrades handed to the relay, the user directory and direct-message REST
// routes, health checks and the built-in test page.
//
// Configuration is process-wide. SetConfig swaps it under configMu, and
// request handlers read the active value on every call.
package server
