// Package recorder persists device presence events received from the
// live-status connection.
//
// Rows are append-only. A replayed event (same device, type and event
// timestamp) is dropped by ON CONFLICT DO NOTHING and counted as a conflict.
package recorder
