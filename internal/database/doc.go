// Package database provides the PostgreSQL connection pool used by the
// device status recorder.
//
// Persistence is optional: livewatch only connects when database.enabled
// is set in config.
package database
