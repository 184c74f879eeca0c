package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/arlo-client/internal/audit"
	"github.com/kingrea/arlo-client/internal/ballot"
	"github.com/kingrea/arlo-client/internal/round"
)

// ErrNoSnapshot is returned by Open when the file has not been captured yet.
var ErrNoSnapshot = errors.New("snapshot: no snapshot captured")

// Snapshot is a point-in-time copy of everything one jurisdiction needs to
// run its current round.
type Snapshot struct {
	SavedAt      time.Time          `yaml:"saved_at"`
	ElectionID   string             `yaml:"election_id"`
	Jurisdiction audit.Jurisdiction `yaml:"jurisdiction"`
	Settings     audit.Settings     `yaml:"settings"`
	Round        *audit.Round       `yaml:"round,omitempty"`
	SampleCount  *round.SampleCount `yaml:"sample_count,omitempty"`
	AuditBoards  []audit.AuditBoard `yaml:"audit_boards"`
	Contests     []audit.Contest    `yaml:"contests"`
	// Ballots maps audit board id to the board's assigned ballots.
	Ballots map[string][]audit.Ballot `yaml:"ballots,omitempty"`
}

// Source is what Capture reads from.
type Source interface {
	Jurisdiction(ctx context.Context) (audit.Jurisdiction, error)
	Settings(ctx context.Context) (audit.Settings, error)
	CurrentRound(ctx context.Context) (audit.Round, bool, error)
	AuditBoards(ctx context.Context, roundID string) ([]audit.AuditBoard, error)
	Contests(ctx context.Context) ([]audit.Contest, error)
	BoardBallots(ctx context.Context, roundID, boardID string) ([]audit.Ballot, error)
	round.Resolver
}

// Capture pulls the current round from src.
func Capture(ctx context.Context, src Source, electionID string) (Snapshot, error) {
	snap := Snapshot{SavedAt: time.Now().UTC(), ElectionID: electionID}
	var err error
	if snap.Jurisdiction, err = src.Jurisdiction(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: jurisdiction: %w", err)
	}
	if snap.Settings, err = src.Settings(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: settings: %w", err)
	}
	if snap.Contests, err = src.Contests(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: contests: %w", err)
	}
	r, ok, err := src.CurrentRound(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: round: %w", err)
	}
	if !ok {
		return snap, nil
	}
	snap.Round = &r
	count, err := round.NewSampleCountLoader(round.SampleCountKey{
		ElectionID:     electionID,
		JurisdictionID: snap.Jurisdiction.ID,
		RoundID:        r.ID,
		AuditType:      snap.Settings.AuditType,
	}).Fetch(ctx, src)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	snap.SampleCount = &count
	if snap.AuditBoards, err = src.AuditBoards(ctx, r.ID); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: audit boards: %w", err)
	}
	snap.Ballots = make(map[string][]audit.Ballot, len(snap.AuditBoards))
	for _, board := range snap.AuditBoards {
		ballots, err := src.BoardBallots(ctx, r.ID, board.ID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: ballots for %s: %w", board.Name, err)
		}
		snap.Ballots[board.ID] = ballots
	}
	return snap, nil
}

// Write saves snap to path, creating parent directories.
func Write(path string, snap Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot: ensure dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot: replace %s: %w", path, err)
	}
	return nil
}

// Store serves a snapshot file and writes changes back to it.
type Store struct {
	path string
	mu   sync.Mutex
	snap Snapshot
}

// Open loads the snapshot at path.
func Open(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrNoSnapshot, path)
		}
		return nil, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: parse %s: %w", path, err)
	}
	if snap.Ballots == nil {
		snap.Ballots = map[string][]audit.Ballot{}
	}
	return &Store{path: path, snap: snap}, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// SavedAt reports when the snapshot was captured.
func (s *Store) SavedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.SavedAt
}

func (s *Store) Jurisdiction(context.Context) (audit.Jurisdiction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Jurisdiction, nil
}

func (s *Store) Settings(context.Context) (audit.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Settings, nil
}

func (s *Store) CurrentRound(context.Context) (audit.Round, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Round == nil {
		return audit.Round{}, false, nil
	}
	return *s.snap.Round, true, nil
}

func (s *Store) AuditBoards(_ context.Context, roundID string) ([]audit.AuditBoard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRound(roundID); err != nil {
		return nil, err
	}
	return append([]audit.AuditBoard(nil), s.snap.AuditBoards...), nil
}

func (s *Store) Contests(context.Context) ([]audit.Contest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Contest(nil), s.snap.Contests...), nil
}

func (s *Store) BoardBallots(_ context.Context, roundID, boardID string) ([]audit.Ballot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRound(roundID); err != nil {
		return nil, err
	}
	return append([]audit.Ballot(nil), s.snap.Ballots[boardID]...), nil
}

// SampleCount implements round.Resolver from the captured count.
func (s *Store) SampleCount(_ context.Context, key round.SampleCountKey) (round.SampleCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRound(key.RoundID); err != nil {
		return round.SampleCount{}, err
	}
	if s.snap.SampleCount == nil {
		return round.SampleCount{}, fmt.Errorf("snapshot: sample count was not captured")
	}
	return *s.snap.SampleCount, nil
}

// CreateAuditBoards implements round.BoardCreator. New boards get local ids
// and no ballots until the next capture.
func (s *Store) CreateAuditBoards(_ context.Context, roundID string, boards []audit.NewAuditBoard) error {
	if len(boards) == 0 {
		return fmt.Errorf("snapshot: at least one audit board is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRound(roundID); err != nil {
		return err
	}
	next := append([]audit.AuditBoard(nil), s.snap.AuditBoards...)
	for _, b := range boards {
		next = append(next, audit.AuditBoard{ID: uuid.NewString(), Name: b.Name})
	}
	prev := s.snap.AuditBoards
	s.snap.AuditBoards = next
	if err := Write(s.path, s.snap); err != nil {
		s.snap.AuditBoards = prev
		return err
	}
	return nil
}

// SubmitBallot implements ballot.Submitter by marking the ballot audited in
// the snapshot.
func (s *Store) SubmitBallot(_ context.Context, sub ballot.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for boardID, ballots := range s.snap.Ballots {
		idx := audit.FindBallot(ballots, sub.Key)
		if idx < 0 {
			continue
		}
		updated := append([]audit.Ballot(nil), ballots...)
		wasAudited := updated[idx].Status == audit.BallotStatusAudited
		updated[idx].Status = audit.BallotStatusAudited
		updated[idx].Interpretations = sub.Interpretations
		updated[idx].Comment = ""
		if sub.Comment != nil {
			updated[idx].Comment = *sub.Comment
		}
		prevBallots := s.snap.Ballots[boardID]
		prevBoards := append([]audit.AuditBoard(nil), s.snap.AuditBoards...)
		s.snap.Ballots[boardID] = updated
		if !wasAudited {
			s.bumpAudited(boardID)
		}
		if err := Write(s.path, s.snap); err != nil {
			s.snap.Ballots[boardID] = prevBallots
			s.snap.AuditBoards = prevBoards
			return err
		}
		return nil
	}
	return fmt.Errorf("snapshot: %s: %w", sub.Key, ballot.ErrBallotNotFound)
}

func (s *Store) bumpAudited(boardID string) {
	for i := range s.snap.AuditBoards {
		if s.snap.AuditBoards[i].ID == boardID {
			s.snap.AuditBoards[i].CurrentRoundStatus.NumAuditedBallots++
			return
		}
	}
}

func (s *Store) checkRound(roundID string) error {
	if s.snap.Round == nil || s.snap.Round.ID != roundID {
		return fmt.Errorf("snapshot: round %s not captured", roundID)
	}
	return nil
}
