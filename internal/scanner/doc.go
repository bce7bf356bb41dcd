// Package scanner is the booth device side of visit recording. Scans are
// checked against a local identifier snapshot, written to a durable queue and
// pushed to the server whenever the connectivity monitor reports the server
// reachable. The server deduplicates, so every entry may be sent more than once.
package scanner
