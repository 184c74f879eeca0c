package audit

import (
	"fmt"
	"strings"
	"time"
)

// AuditType enumerates the audit math the server runs for an election.
type AuditType string

const (
	AuditTypeBallotPolling    AuditType = "BALLOT_POLLING"
	AuditTypeBatchComparison  AuditType = "BATCH_COMPARISON"
	AuditTypeBallotComparison AuditType = "BALLOT_COMPARISON"
	AuditTypeHybrid           AuditType = "HYBRID"
)

// IsBatchBased reports whether the unit of sampling is a batch.
func (t AuditType) IsBatchBased() bool {
	return t == AuditTypeBatchComparison
}

// BallotStatus mirrors the persisted status of a sampled ballot.
type BallotStatus string

const (
	BallotStatusNotAudited BallotStatus = "NOT_AUDITED"
	BallotStatusAudited    BallotStatus = "AUDITED"
	BallotStatusNotFound   BallotStatus = "NOT_FOUND"
)

// InterpretationKind distinguishes a recorded vote from the two exclusive
// markers an audit board can choose instead.
type InterpretationKind string

const (
	InterpretationNone        InterpretationKind = ""
	InterpretationVote        InterpretationKind = "VOTE"
	InterpretationBlank       InterpretationKind = "BLANK"
	InterpretationNotOnBallot InterpretationKind = "CONTEST_NOT_ON_BALLOT"
)

// Choice is one selectable option in a contest.
type Choice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Contest lists the choices an audit board may select for a ballot.
type Contest struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Choices      []Choice `json:"choices"`
	VotesAllowed int      `json:"votesAllowed,omitempty"`
}

// ChoiceName resolves a choice id to its display name.
func (c Contest) ChoiceName(id string) (string, bool) {
	for _, choice := range c.Choices {
		if choice.ID == id {
			return choice.Name, true
		}
	}
	return "", false
}

// HasChoice reports whether id belongs to the contest.
func (c Contest) HasChoice(id string) bool {
	_, ok := c.ChoiceName(id)
	return ok
}

// Interpretation is the audit board's reading of one contest on a ballot.
// ChoiceIDs is only meaningful for InterpretationVote.
type Interpretation struct {
	Kind      InterpretationKind `json:"interpretation"`
	ChoiceIDs []string           `json:"choiceIds,omitempty"`
}

// Vote builds a vote interpretation for the given choices.
func Vote(choiceIDs ...string) Interpretation {
	return Interpretation{Kind: InterpretationVote, ChoiceIDs: dedupe(choiceIDs)}
}

// Blank builds the blank-vote marker.
func Blank() Interpretation { return Interpretation{Kind: InterpretationBlank} }

// NotOnBallot builds the contest-not-on-ballot marker.
func NotOnBallot() Interpretation { return Interpretation{Kind: InterpretationNotOnBallot} }

// IsSet reports whether exactly one of the three interpretation forms is
// active: a non-empty vote, the blank marker, or the not-on-ballot marker.
func (i Interpretation) IsSet() bool {
	switch i.Kind {
	case InterpretationVote:
		return len(i.ChoiceIDs) > 0
	case InterpretationBlank, InterpretationNotOnBallot:
		return len(i.ChoiceIDs) == 0
	default:
		return false
	}
}

// Selected reports whether choiceID is part of a vote interpretation.
func (i Interpretation) Selected(choiceID string) bool {
	if i.Kind != InterpretationVote {
		return false
	}
	for _, id := range i.ChoiceIDs {
		if id == choiceID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (i Interpretation) Clone() Interpretation {
	out := Interpretation{Kind: i.Kind}
	if len(i.ChoiceIDs) > 0 {
		out.ChoiceIDs = append([]string(nil), i.ChoiceIDs...)
	}
	return out
}

// Equal compares two interpretations, treating choice order as significant
// since the draft keeps selection order stable.
func (i Interpretation) Equal(other Interpretation) bool {
	if i.Kind != other.Kind || len(i.ChoiceIDs) != len(other.ChoiceIDs) {
		return false
	}
	for idx := range i.ChoiceIDs {
		if i.ChoiceIDs[idx] != other.ChoiceIDs[idx] {
			return false
		}
	}
	return true
}

// Describe renders the interpretation for review screens.
func (i Interpretation) Describe(contest Contest) string {
	switch i.Kind {
	case InterpretationBlank:
		return "Blank vote"
	case InterpretationNotOnBallot:
		return "Not on Ballot"
	case InterpretationVote:
		names := make([]string, 0, len(i.ChoiceIDs))
		for _, id := range i.ChoiceIDs {
			if name, ok := contest.ChoiceName(id); ok {
				names = append(names, name)
			} else {
				names = append(names, id)
			}
		}
		return strings.Join(names, ", ")
	default:
		return ""
	}
}

// ContestInterpretation pairs a contest id with its interpretation.
type ContestInterpretation struct {
	ContestID string `json:"contestId"`
	Interpretation
}

// BallotKey identifies a ballot by batch and position within the batch.
type BallotKey struct {
	BatchID  string
	Position int
}

func (k BallotKey) String() string {
	return fmt.Sprintf("%s#%d", k.BatchID, k.Position)
}

// Batch describes the batch a sampled ballot lives in.
type Batch struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Tabulator string `json:"tabulator,omitempty"`
}

// Ballot is a sampled ballot assigned to an audit board.
type Ballot struct {
	ID              string                  `json:"id"`
	Batch           Batch                   `json:"batch"`
	Position        int                     `json:"position"`
	Status          BallotStatus            `json:"status"`
	Interpretations []ContestInterpretation `json:"interpretations,omitempty"`
	Comment         string                  `json:"comment,omitempty"`
}

// Key returns the ballot's batch/position identity.
func (b Ballot) Key() BallotKey {
	return BallotKey{BatchID: b.Batch.ID, Position: b.Position}
}

// FindBallot returns the index of the ballot at key, or -1.
func FindBallot(ballots []Ballot, key BallotKey) int {
	for idx, b := range ballots {
		if b.Key() == key {
			return idx
		}
	}
	return -1
}

// Round is one iteration of sampling for the whole audit.
type Round struct {
	ID              string     `json:"id"`
	RoundNum        int        `json:"roundNum"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	IsAuditComplete bool       `json:"isAuditComplete"`
	IsFullHandTally bool       `json:"isFullHandTally"`
}

// IsComplete reports whether the round has ended.
func (r Round) IsComplete() bool {
	return r.EndedAt != nil
}

// Settings is the slice of audit configuration a jurisdiction sees.
type Settings struct {
	AuditName string    `json:"auditName"`
	AuditType AuditType `json:"auditType"`
	Online    bool      `json:"online"`
}

// Jurisdiction is the unit running data entry for a round.
type Jurisdiction struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	NumBallots int    `json:"numBallots"`
}

// AuditBoard is a team interpreting ballots in one jurisdiction and round.
type AuditBoard struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Passphrase         string     `json:"passphrase,omitempty"`
	SignedOffAt        *time.Time `json:"signedOffAt,omitempty"`
	CurrentRoundStatus BoardCount `json:"currentRoundStatus"`
}

// BoardCount tracks how far a board has got through its assigned ballots.
type BoardCount struct {
	NumSampledBallots int `json:"numSampledBallots"`
	NumAuditedBallots int `json:"numAuditedBallots"`
}

// SignedOff reports whether the board has signed off on the round.
func (b AuditBoard) SignedOff() bool {
	return b.SignedOffAt != nil
}

// NewAuditBoard is the payload for creating an audit board.
type NewAuditBoard struct {
	Name string `json:"name"`
}

// DefaultBoardNames returns "Audit Board #1".."Audit Board #n".
func DefaultBoardNames(n int) []NewAuditBoard {
	if n <= 0 {
		return nil
	}
	out := make([]NewAuditBoard, n)
	for i := range out {
		out[i] = NewAuditBoard{Name: fmt.Sprintf("Audit Board #%d", i+1)}
	}
	return out
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
