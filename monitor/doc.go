// Package monitor exposes relay metrics and health over HTTP.
//
// Metrics implements the messaging observer and counts published, returned
// and failed messages on a dedicated prometheus registry. The health
// Registry aggregates checkers for the broker connections, the source
// queue backlog, the archive cache and the lifecycle state.
package monitor
