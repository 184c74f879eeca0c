package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kingrea/arlo-client/internal/audit"
	"github.com/kingrea/arlo-client/internal/ballot"
)

// Status is the outcome recorded for a submission.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusFailed   Status = "failed"
)

// Entry is one recorded submission.
type Entry struct {
	ID              string
	BallotID        string
	Key             audit.BallotKey
	Interpretations []audit.ContestInterpretation
	Comment         *string
	Status          Status
	Error           string
	SubmittedAt     time.Time
}

// Journal records every ballot submission made from this terminal in a local
// SQLite file, whether it went to the server or to the offline snapshot.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Journal, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping %s: %w", path, err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS submissions (
  id              TEXT PRIMARY KEY,
  ballot_id       TEXT NOT NULL,
  batch_id        TEXT NOT NULL,
  position        INTEGER NOT NULL,
  interpretations TEXT NOT NULL,
  comment         TEXT,
  status          TEXT NOT NULL CHECK (status IN ('pending','accepted','failed')),
  error           TEXT,
  submitted_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_ballot ON submissions(batch_id, position, submitted_at);
`); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ensure schema: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Wrap returns a Submitter that journals each submission, forwards it to
// next and records the outcome. A journal write failure stops the forward
// so the ballot is never sent without a local record.
func (j *Journal) Wrap(next ballot.Submitter) ballot.Submitter {
	return ballot.SubmitterFunc(func(ctx context.Context, sub ballot.Submission) error {
		id, err := j.insert(ctx, sub, StatusPending)
		if err != nil {
			return err
		}
		sendErr := next.SubmitBallot(ctx, sub)
		status, msg := StatusAccepted, ""
		if sendErr != nil {
			status, msg = StatusFailed, sendErr.Error()
		}
		if err := j.setStatus(ctx, id, status, msg); err != nil {
			return errors.Join(sendErr, err)
		}
		return sendErr
	})
}

// Entries returns the most recent submissions, newest first.
func (j *Journal) Entries(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `SELECT id, ballot_id, batch_id, position, interpretations, comment, status, error, submitted_at
FROM submissions ORDER BY submitted_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query entries: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate entries: %w", err)
	}
	return out, nil
}

// Latest returns the most recent submission for a ballot.
func (j *Journal) Latest(ctx context.Context, key audit.BallotKey) (Entry, bool, error) {
	row := j.db.QueryRowContext(ctx, `SELECT id, ballot_id, batch_id, position, interpretations, comment, status, error, submitted_at
FROM submissions WHERE batch_id = ? AND position = ? ORDER BY submitted_at DESC, rowid DESC LIMIT 1`, key.BatchID, key.Position)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (j *Journal) insert(ctx context.Context, sub ballot.Submission, status Status) (string, error) {
	payload, err := json.Marshal(sub.Interpretations)
	if err != nil {
		return "", fmt.Errorf("journal: encode interpretations: %w", err)
	}
	id := uuid.NewString()
	_, err = j.db.ExecContext(ctx, `INSERT INTO submissions(id, ballot_id, batch_id, position, interpretations, comment, status, submitted_at) VALUES(?,?,?,?,?,?,?,?)`,
		id, sub.BallotID, sub.Key.BatchID, sub.Key.Position, string(payload), nullString(sub.Comment), string(status), j.now().UTC())
	if err != nil {
		return "", fmt.Errorf("journal: record %s: %w", sub.Key, err)
	}
	return id, nil
}

func (j *Journal) setStatus(ctx context.Context, id string, status Status, msg string) error {
	var errText any
	if msg != "" {
		errText = msg
	}
	if _, err := j.db.ExecContext(ctx, `UPDATE submissions SET status = ?, error = ? WHERE id = ?`, string(status), errText, id); err != nil {
		return fmt.Errorf("journal: update %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e        Entry
		payload  string
		comment  sql.NullString
		status   string
		errText  sql.NullString
		position int
	)
	if err := s.Scan(&e.ID, &e.BallotID, &e.Key.BatchID, &position, &payload, &comment, &status, &errText, &e.SubmittedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("journal: scan entry: %w", err)
	}
	e.Key.Position = position
	if err := json.Unmarshal([]byte(payload), &e.Interpretations); err != nil {
		return Entry{}, fmt.Errorf("journal: decode interpretations: %w", err)
	}
	if comment.Valid {
		c := comment.String
		e.Comment = &c
	}
	e.Status = Status(status)
	e.Error = errText.String
	return e, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
