// Package archive stores a recovery copy of every relayed message.
//
// Records are the JSON encoding of contracts.Envelope keyed by message id.
// Backends are a Redis-compatible cache and a directory of JSON files; both
// can be enabled at once. Archival is best effort: a failed write is
// reported to the caller and the message is still relayed.
package archive
