package round

import (
	"context"
	"fmt"

	"github.com/kingrea/arlo-client/internal/audit"
)

// SampleCount is how much a jurisdiction must audit this round. Batches is
// only present for batch-based audits.
type SampleCount struct {
	Ballots int  `json:"ballots"`
	Batches *int `json:"batches,omitempty"`
}

// Validate checks counts are non-negative and that batches are reported
// exactly when the audit type is batch-based.
func (c SampleCount) Validate(auditType audit.AuditType) error {
	if c.Ballots < 0 {
		return fmt.Errorf("round: negative ballot count %d", c.Ballots)
	}
	if c.Batches != nil && *c.Batches < 0 {
		return fmt.Errorf("round: negative batch count %d", *c.Batches)
	}
	switch {
	case auditType.IsBatchBased() && c.Batches == nil:
		return fmt.Errorf("round: %s sample count is missing batches", auditType)
	case !auditType.IsBatchBased() && c.Batches != nil:
		return fmt.Errorf("round: %s sample count must not report batches", auditType)
	}
	return nil
}

// SampleCountKey selects the sample count to fetch.
type SampleCountKey struct {
	ElectionID     string
	JurisdictionID string
	RoundID        string
	AuditType      audit.AuditType
}

// Resolver fetches sample counts from the server.
type Resolver interface {
	SampleCount(ctx context.Context, key SampleCountKey) (SampleCount, error)
}

// BoardCreator creates the audit boards for a round.
type BoardCreator interface {
	CreateAuditBoards(ctx context.Context, roundID string, boards []audit.NewAuditBoard) error
}

// SampleCountLoader holds the result of an asynchronous fetch. A nil Count
// means the fetch has not completed, which is distinct from a zero count.
type SampleCountLoader struct {
	key   SampleCountKey
	count *SampleCount
	err   error
}

// NewSampleCountLoader prepares a loader for key.
func NewSampleCountLoader(key SampleCountKey) *SampleCountLoader {
	return &SampleCountLoader{key: key}
}

// Key returns the key being loaded.
func (l *SampleCountLoader) Key() SampleCountKey { return l.key }

// Fetch runs the resolver. It does not store the result; hand it to Deliver
// on the goroutine that owns the loader.
func (l *SampleCountLoader) Fetch(ctx context.Context, r Resolver) (SampleCount, error) {
	if r == nil {
		return SampleCount{}, fmt.Errorf("round: sample count resolver is required")
	}
	count, err := r.SampleCount(ctx, l.key)
	if err != nil {
		return SampleCount{}, fmt.Errorf("round: fetch sample count: %w", err)
	}
	if err := count.Validate(l.key.AuditType); err != nil {
		return SampleCount{}, err
	}
	return count, nil
}

// Deliver records a fetch result. Failures leave the loader loading so the
// dispatcher keeps showing Loading while the caller offers a retry.
func (l *SampleCountLoader) Deliver(count SampleCount, err error) {
	if err != nil {
		l.err = err
		return
	}
	c := count
	l.count = &c
	l.err = nil
}

// Count returns the loaded count, or nil while loading.
func (l *SampleCountLoader) Count() *SampleCount {
	if l == nil || l.count == nil {
		return nil
	}
	c := *l.count
	return &c
}

// Err returns the last fetch failure.
func (l *SampleCountLoader) Err() error {
	if l == nil {
		return nil
	}
	return l.err
}
