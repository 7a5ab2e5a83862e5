// Package connection implements the live-status Connection Manager.
//
// The Connection Manager:
//   - Owns at most one WebSocket transport at a time
//   - Reports state (connecting, connected, disconnected, error) to listeners
//   - Dispatches decoded frames to handlers by message type, wildcard first
//   - Reconnects after unexpected closes at a fixed interval, up to a cap
//
// Every transport belongs to a session identified by a UUID. Disconnect and
// Connect rotate the session, so late events from a replaced transport and
// timers armed for it are ignored.
package connection
