// Package audit holds the shared domain model for a jurisdiction's view of a
// risk-limiting audit: contests and their choices, sampled ballots and their
// interpretations, rounds, audit settings and audit boards.
package audit
