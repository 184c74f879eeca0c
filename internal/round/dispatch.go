package round

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/kingrea/arlo-client/internal/audit"
)

// View names the screen a jurisdiction sees for its current round.
type View string

const (
	ViewLoading                 View = "loading"
	ViewComplete                View = "complete"
	ViewNoBallotsAssigned       View = "no-ballots-assigned"
	ViewBoardSetup              View = "board-setup"
	ViewBatchDataEntry          View = "batch-data-entry"
	ViewOfflineRoundProgress    View = "offline-round-progress"
	ViewFullHandTallyDataEntry  View = "full-hand-tally-data-entry"
	ViewStandardBallotDataEntry View = "standard-ballot-data-entry"
)

// IsDataEntry reports whether the view is one of the per-round workflows.
func (v View) IsDataEntry() bool {
	switch v {
	case ViewBatchDataEntry, ViewOfflineRoundProgress, ViewFullHandTallyDataEntry, ViewStandardBallotDataEntry:
		return true
	default:
		return false
	}
}

// Download is a file the jurisdiction can pull for the round.
type Download string

const (
	DownloadBallotRetrievalList Download = "Download Aggregated Ballot Retrieval List"
	DownloadBatchRetrievalList  Download = "Download Aggregated Batch Retrieval List"
	DownloadPlaceholderSheets   Download = "Download Placeholder Sheets"
	DownloadBallotLabels        Download = "Download Ballot Labels"
	DownloadBoardCredentials    Download = "Download Audit Board Credentials"
)

const (
	messageComplete  = "Congratulations! Your Risk-Limiting Audit is now complete."
	messageNoBallots = "Your jurisdiction has not been assigned any ballots to audit in this round."
)

// Inputs is everything the dispatcher looks at. Nil pointers mean the value
// has not loaded yet.
type Inputs struct {
	Round        audit.Round
	Settings     *audit.Settings
	AuditBoards  []audit.AuditBoard
	SampleCount  *SampleCount
	Jurisdiction *audit.Jurisdiction
}

// BoardProgress summarises one audit board for progress views.
type BoardProgress struct {
	Name      string
	Audited   int
	Sampled   int
	SignedOff bool
}

// Decision is the dispatcher's output.
type Decision struct {
	View           View
	Heading        string
	Message        string
	SamplesToAudit string
	Downloads      []Download
	Boards         []BoardProgress
	RoundComplete  bool
	AuditComplete  bool
}

// Select picks the view for a round. Rules are evaluated in order and the
// first match wins; missing inputs yield ViewLoading.
func Select(in Inputs) Decision {
	if in.Settings == nil || in.SampleCount == nil || in.Jurisdiction == nil {
		return Decision{View: ViewLoading}
	}
	settings := *in.Settings
	count := *in.SampleCount
	if settings.AuditType.IsBatchBased() && count.Batches == nil {
		return Decision{View: ViewLoading}
	}
	d := Decision{
		RoundComplete: in.Round.IsComplete(),
		AuditComplete: in.Round.IsAuditComplete,
	}
	if in.Round.IsAuditComplete {
		d.View = ViewComplete
		d.Message = messageComplete
		return d
	}
	if !in.Round.IsFullHandTally && count.Ballots == 0 {
		d.View = ViewNoBallotsAssigned
		d.Message = messageNoBallots
		return d
	}
	d.SamplesToAudit = samplesToAudit(in.Round, settings, count, *in.Jurisdiction)
	if len(in.AuditBoards) == 0 {
		d.View = ViewBoardSetup
		d.Heading = fmt.Sprintf("Round %d Audit Board Setup", in.Round.RoundNum)
		return d
	}
	d.Heading = fmt.Sprintf("Round %d Data Entry", in.Round.RoundNum)
	d.View = workflow(in.Round, settings)
	if !in.Round.IsFullHandTally {
		d.Downloads = downloads(settings)
	}
	d.Boards = boardProgress(in.AuditBoards)
	return d
}

func workflow(r audit.Round, settings audit.Settings) View {
	switch {
	case settings.AuditType == audit.AuditTypeBatchComparison:
		return ViewBatchDataEntry
	case !settings.Online:
		return ViewOfflineRoundProgress
	case r.IsFullHandTally:
		return ViewFullHandTallyDataEntry
	default:
		return ViewStandardBallotDataEntry
	}
}

func samplesToAudit(r audit.Round, settings audit.Settings, count SampleCount, j audit.Jurisdiction) string {
	switch {
	case r.IsFullHandTally:
		return fmt.Sprintf("Please audit all of the ballots in your jurisdiction (%s ballots)", humanize.Comma(int64(j.NumBallots)))
	case settings.AuditType == audit.AuditTypeBatchComparison:
		return fmt.Sprintf("Batches to audit: %s\nTotal ballots in batches: %s",
			humanize.Comma(int64(*count.Batches)), humanize.Comma(int64(count.Ballots)))
	default:
		return fmt.Sprintf("Ballots to audit: %s", humanize.Comma(int64(count.Ballots)))
	}
}

func downloads(settings audit.Settings) []Download {
	if settings.AuditType == audit.AuditTypeBatchComparison {
		return []Download{DownloadBatchRetrievalList}
	}
	out := []Download{DownloadBallotRetrievalList, DownloadPlaceholderSheets, DownloadBallotLabels}
	if settings.Online {
		out = append(out, DownloadBoardCredentials)
	}
	return out
}

func boardProgress(boards []audit.AuditBoard) []BoardProgress {
	out := make([]BoardProgress, len(boards))
	for i, b := range boards {
		out[i] = BoardProgress{
			Name:      b.Name,
			Audited:   b.CurrentRoundStatus.NumAuditedBallots,
			Sampled:   b.CurrentRoundStatus.NumSampledBallots,
			SignedOff: b.SignedOff(),
		}
	}
	return out
}
