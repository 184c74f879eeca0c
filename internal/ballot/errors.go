package ballot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/arlo-client/internal/audit"
)

// ErrBallotNotFound signals that a batch/position pair does not resolve to a
// ballot assigned to the board. Views redirect to the board home on it.
var ErrBallotNotFound = errors.New("ballot: not found")

// ErrUnknownContest is returned when an interpretation targets a contest the
// ballot does not carry.
var ErrUnknownContest = errors.New("ballot: unknown contest")

// ErrUnknownChoice is returned when a vote names a choice outside the contest.
var ErrUnknownChoice = errors.New("ballot: unknown choice")

// ValidationError lists contests that still need an interpretation.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ballot: interpretation required for %s", strings.Join(e.Missing, ", "))
}

// SubmitError wraps a persistence failure for a finalized ballot. The ballot
// stays submitted-but-unaccepted until the board re-opens it with EditAgain.
type SubmitError struct {
	Key audit.BallotKey
	Err error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("ballot: submit %s: %v", e.Key, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Temporary marks persistence failures as retryable.
func (e *SubmitError) Temporary() bool { return true }
