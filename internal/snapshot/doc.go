// Package snapshot stores a YAML copy of one jurisdiction's round so data
// entry can continue without the server. The store serves the same reads
// as the HTTP client and records boards and audited ballots in the file.
package snapshot
