// Package journal keeps a local SQLite record of every ballot submission
// made from this terminal, wrapping whichever Submitter actually persists
// the ballot.
package journal
