// Package arloapi is the HTTP adapter for the Arlo server. It loads the
// round, settings, boards and ballots a jurisdiction works from, resolves
// sample counts, creates audit boards and persists audited ballots.
package arloapi
