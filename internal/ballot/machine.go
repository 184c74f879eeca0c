package ballot

import (
	"fmt"
	"strings"

	"github.com/kingrea/arlo-client/internal/audit"
)

// State is a ballot's position in the interpretation workflow.
type State string

const (
	StateUnreviewed    State = "unreviewed"
	StateAuditing      State = "auditing"
	StatePendingReview State = "pending-review"
	StateSubmitted     State = "submitted"
)

// Submission is the frozen payload handed to the persistence collaborator.
// Comment is nil when the board left it empty.
type Submission struct {
	BallotID        string
	Key             audit.BallotKey
	Interpretations []audit.ContestInterpretation
	Comment         *string
}

// Machine tracks one ballot's interpretation lifecycle. It is owned by a
// single view and is not safe for concurrent use.
type Machine struct {
	ballotID string
	key      audit.BallotKey
	contests []audit.Contest
	index    map[string]int

	state   State
	draft   map[string]audit.Interpretation
	comment string

	frozen  *Submission
	failure error
}

// New locates the ballot at key and prepares a machine for it. Ballots that
// were audited in an earlier session seed the draft with their recorded
// interpretations. A key that does not resolve yields ErrBallotNotFound.
func New(ballots []audit.Ballot, key audit.BallotKey, contests []audit.Contest) (*Machine, error) {
	idx := audit.FindBallot(ballots, key)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrBallotNotFound, key)
	}
	b := ballots[idx]
	m := &Machine{
		ballotID: b.ID,
		key:      key,
		contests: append([]audit.Contest(nil), contests...),
		index:    make(map[string]int, len(contests)),
		state:    StateUnreviewed,
		draft:    make(map[string]audit.Interpretation, len(contests)),
	}
	for i, c := range contests {
		m.index[c.ID] = i
	}
	if b.Status == audit.BallotStatusAudited {
		for _, ci := range b.Interpretations {
			if _, ok := m.index[ci.ContestID]; ok {
				m.draft[ci.ContestID] = ci.Interpretation.Clone()
			}
		}
		m.comment = b.Comment
	}
	return m, nil
}

// State returns the current workflow state.
func (m *Machine) State() State { return m.state }

// Key returns the ballot's batch/position identity.
func (m *Machine) Key() audit.BallotKey { return m.key }

// BallotID returns the server id of the ballot.
func (m *Machine) BallotID() string { return m.ballotID }

// Contests returns the contests on the ballot in display order.
func (m *Machine) Contests() []audit.Contest {
	return append([]audit.Contest(nil), m.contests...)
}

// Interpretation returns the draft value for a contest.
func (m *Machine) Interpretation(contestID string) audit.Interpretation {
	return m.draft[contestID].Clone()
}

// Comment returns the draft comment as typed.
func (m *Machine) Comment() string { return m.comment }

// Failure returns the persistence error recorded for a submitted ballot.
func (m *Machine) Failure() error { return m.failure }

// Submitted returns the frozen payload once the ballot has been submitted.
func (m *Machine) Submitted() (Submission, bool) {
	if m.state != StateSubmitted || m.frozen == nil {
		return Submission{}, false
	}
	return cloneSubmission(*m.frozen), true
}

// Record replaces a contest's interpretation in the draft. An empty
// interpretation clears the contest. Other contests keep their values. The
// result is false when the ballot can no longer be edited.
func (m *Machine) Record(contestID string, value audit.Interpretation) (bool, error) {
	if !m.editable() {
		return false, nil
	}
	idx, ok := m.index[contestID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownContest, contestID)
	}
	contest := m.contests[idx]
	if value.Kind == audit.InterpretationVote {
		for _, id := range value.ChoiceIDs {
			if !contest.HasChoice(id) {
				return false, fmt.Errorf("%w: %s in contest %s", ErrUnknownChoice, id, contestID)
			}
		}
	}
	if value.IsSet() {
		m.draft[contestID] = value.Clone()
	} else {
		delete(m.draft, contestID)
	}
	m.state = StateAuditing
	return true, nil
}

// ToggleChoice selects or deselects a choice. Selecting a choice drops any
// blank or not-on-ballot marker for the contest.
func (m *Machine) ToggleChoice(contestID, choiceID string) (bool, error) {
	current := m.draft[contestID]
	if current.Kind != audit.InterpretationVote {
		return m.Record(contestID, audit.Vote(choiceID))
	}
	next := make([]string, 0, len(current.ChoiceIDs)+1)
	removed := false
	for _, id := range current.ChoiceIDs {
		if id == choiceID {
			removed = true
			continue
		}
		next = append(next, id)
	}
	if !removed {
		next = append(next, choiceID)
	}
	if len(next) == 0 {
		return m.Record(contestID, audit.Interpretation{})
	}
	return m.Record(contestID, audit.Vote(next...))
}

// MarkBlank toggles the blank-vote marker for a contest.
func (m *Machine) MarkBlank(contestID string) (bool, error) {
	return m.toggleMarker(contestID, audit.Blank())
}

// MarkNotOnBallot toggles the contest-not-on-ballot marker.
func (m *Machine) MarkNotOnBallot(contestID string) (bool, error) {
	return m.toggleMarker(contestID, audit.NotOnBallot())
}

func (m *Machine) toggleMarker(contestID string, marker audit.Interpretation) (bool, error) {
	if m.draft[contestID].Kind == marker.Kind {
		return m.Record(contestID, audit.Interpretation{})
	}
	return m.Record(contestID, marker)
}

// SetComment updates the free-text comment. It counts as an edit.
func (m *Machine) SetComment(text string) bool {
	if !m.editable() {
		return false
	}
	m.comment = text
	m.state = StateAuditing
	return true
}

// RequestReview moves an in-progress interpretation to review. Every contest
// must carry an interpretation; otherwise a *ValidationError is returned and
// the state does not change.
func (m *Machine) RequestReview() (bool, error) {
	if m.state != StateAuditing {
		return false, nil
	}
	var missing []string
	for _, c := range m.contests {
		if !m.draft[c.ID].IsSet() {
			missing = append(missing, c.ID)
		}
	}
	if len(missing) > 0 {
		return false, &ValidationError{Missing: missing}
	}
	m.state = StatePendingReview
	return true, nil
}

// Review returns the payload that confirming would submit.
func (m *Machine) Review() (Submission, bool) {
	switch m.state {
	case StatePendingReview:
		return m.payload(), true
	case StateSubmitted:
		return m.Submitted()
	default:
		return Submission{}, false
	}
}

// EditAgain re-opens a ballot under review, keeping the draft. A submitted
// ballot whose persistence failed can be re-opened the same way to retry.
func (m *Machine) EditAgain() bool {
	switch {
	case m.state == StatePendingReview:
	case m.state == StateSubmitted && m.failure != nil:
		m.frozen = nil
		m.failure = nil
	default:
		return false
	}
	m.state = StateAuditing
	return true
}

// ConfirmSubmit freezes the reviewed draft and marks the ballot submitted.
// Only the first call from PendingReview succeeds.
func (m *Machine) ConfirmSubmit() (Submission, bool) {
	if m.state != StatePendingReview {
		return Submission{}, false
	}
	sub := m.payload()
	m.frozen = &sub
	m.failure = nil
	m.state = StateSubmitted
	return cloneSubmission(sub), true
}

func (m *Machine) markFailed(err error) {
	if m.state == StateSubmitted {
		m.failure = err
	}
}

func (m *Machine) markAccepted() {
	m.failure = nil
}

func (m *Machine) editable() bool {
	switch m.state {
	case StateUnreviewed, StateAuditing, StatePendingReview:
		return true
	default:
		return false
	}
}

func (m *Machine) payload() Submission {
	sub := Submission{
		BallotID:        m.ballotID,
		Key:             m.key,
		Interpretations: make([]audit.ContestInterpretation, 0, len(m.contests)),
	}
	for _, c := range m.contests {
		sub.Interpretations = append(sub.Interpretations, audit.ContestInterpretation{
			ContestID:      c.ID,
			Interpretation: m.draft[c.ID].Clone(),
		})
	}
	if strings.TrimSpace(m.comment) != "" {
		comment := m.comment
		sub.Comment = &comment
	}
	return sub
}

func cloneSubmission(sub Submission) Submission {
	out := Submission{BallotID: sub.BallotID, Key: sub.Key}
	if len(sub.Interpretations) > 0 {
		out.Interpretations = make([]audit.ContestInterpretation, len(sub.Interpretations))
		for i, ci := range sub.Interpretations {
			out.Interpretations[i] = audit.ContestInterpretation{
				ContestID:      ci.ContestID,
				Interpretation: ci.Interpretation.Clone(),
			}
		}
	}
	if sub.Comment != nil {
		comment := *sub.Comment
		out.Comment = &comment
	}
	return out
}
