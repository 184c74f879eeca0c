package round

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/arlo-client/internal/audit"
)

func intPtr(v int) *int { return &v }

func baseInputs() Inputs {
	return Inputs{
		Round:        audit.Round{ID: "round-1", RoundNum: 1},
		Settings:     &audit.Settings{AuditName: "Test Audit", AuditType: audit.AuditTypeBallotPolling, Online: true},
		AuditBoards:  []audit.AuditBoard{{ID: "ab-1", Name: "Audit Board #1"}},
		SampleCount:  &SampleCount{Ballots: 27},
		Jurisdiction: &audit.Jurisdiction{ID: "j-1", Name: "Jurisdiction One", NumBallots: 2117},
	}
}

func TestSelectLoadingWhenInputsMissing(t *testing.T) {
	cases := map[string]func(*Inputs){
		"settings":     func(in *Inputs) { in.Settings = nil },
		"sample count": func(in *Inputs) { in.SampleCount = nil },
		"jurisdiction": func(in *Inputs) { in.Jurisdiction = nil },
		"batches": func(in *Inputs) {
			in.Settings.AuditType = audit.AuditTypeBatchComparison
		},
	}
	for name, mutate := range cases {
		in := baseInputs()
		mutate(&in)
		if got := Select(in).View; got != ViewLoading {
			t.Fatalf("%s missing: view = %s, want %s", name, got, ViewLoading)
		}
	}
}

func TestSelectCompleteTakesPriority(t *testing.T) {
	in := baseInputs()
	in.Round.IsAuditComplete = true
	in.AuditBoards = nil
	in.SampleCount = &SampleCount{Ballots: 0}
	in.Round.IsFullHandTally = true
	d := Select(in)
	if d.View != ViewComplete {
		t.Fatalf("view = %s, want %s", d.View, ViewComplete)
	}
	if !d.AuditComplete || !strings.Contains(d.Message, "Congratulations") {
		t.Fatalf("decision = %+v", d)
	}
}

func TestSelectNoBallotsAssigned(t *testing.T) {
	in := baseInputs()
	in.SampleCount = &SampleCount{Ballots: 0}
	in.AuditBoards = nil
	if got := Select(in).View; got != ViewNoBallotsAssigned {
		t.Fatalf("view = %s, want %s", got, ViewNoBallotsAssigned)
	}

	in.Round.IsFullHandTally = true
	if got := Select(in).View; got != ViewBoardSetup {
		t.Fatalf("full hand tally with zero sample: view = %s, want %s", got, ViewBoardSetup)
	}
}

func TestSelectBoardSetup(t *testing.T) {
	in := baseInputs()
	in.AuditBoards = nil
	d := Select(in)
	if d.View != ViewBoardSetup {
		t.Fatalf("view = %s, want %s", d.View, ViewBoardSetup)
	}
	if d.Heading != "Round 1 Audit Board Setup" {
		t.Fatalf("heading = %q", d.Heading)
	}
	if d.SamplesToAudit != "Ballots to audit: 27" {
		t.Fatalf("samples = %q", d.SamplesToAudit)
	}
	if len(d.Downloads) != 0 {
		t.Fatalf("board setup has no downloads, got %v", d.Downloads)
	}
}

func TestSelectBatchComparisonIgnoresOnlineAndTally(t *testing.T) {
	for _, online := range []bool{true, false} {
		for _, tally := range []bool{true, false} {
			in := baseInputs()
			in.Settings.AuditType = audit.AuditTypeBatchComparison
			in.Settings.Online = online
			in.Round.IsFullHandTally = tally
			in.SampleCount = &SampleCount{Ballots: 1234, Batches: intPtr(3)}
			if got := Select(in).View; got != ViewBatchDataEntry {
				t.Fatalf("online=%v tally=%v: view = %s, want %s", online, tally, got, ViewBatchDataEntry)
			}
		}
	}
}

func TestSelectWorkflowOrder(t *testing.T) {
	cases := []struct {
		name   string
		online bool
		tally  bool
		want   View
	}{
		{"offline", false, false, ViewOfflineRoundProgress},
		{"offline full hand tally", false, true, ViewOfflineRoundProgress},
		{"online full hand tally", true, true, ViewFullHandTallyDataEntry},
		{"online polling", true, false, ViewStandardBallotDataEntry},
	}
	for _, tc := range cases {
		in := baseInputs()
		in.Settings.Online = tc.online
		in.Round.IsFullHandTally = tc.tally
		d := Select(in)
		if d.View != tc.want {
			t.Fatalf("%s: view = %s, want %s", tc.name, d.View, tc.want)
		}
		if d.Heading != "Round 1 Data Entry" {
			t.Fatalf("%s: heading = %q", tc.name, d.Heading)
		}
	}
}

func TestSelectSamplesAndDownloads(t *testing.T) {
	in := baseInputs()
	in.Settings.AuditType = audit.AuditTypeBatchComparison
	in.SampleCount = &SampleCount{Ballots: 12345, Batches: intPtr(1200)}
	d := Select(in)
	if d.SamplesToAudit != "Batches to audit: 1,200\nTotal ballots in batches: 12,345" {
		t.Fatalf("samples = %q", d.SamplesToAudit)
	}
	if !reflect.DeepEqual(d.Downloads, []Download{DownloadBatchRetrievalList}) {
		t.Fatalf("downloads = %v", d.Downloads)
	}

	in = baseInputs()
	d = Select(in)
	want := []Download{DownloadBallotRetrievalList, DownloadPlaceholderSheets, DownloadBallotLabels, DownloadBoardCredentials}
	if !reflect.DeepEqual(d.Downloads, want) {
		t.Fatalf("online downloads = %v", d.Downloads)
	}

	in.Settings.Online = false
	d = Select(in)
	if len(d.Downloads) != 3 {
		t.Fatalf("offline downloads = %v", d.Downloads)
	}

	in.Settings.Online = true
	in.Round.IsFullHandTally = true
	d = Select(in)
	if len(d.Downloads) != 0 {
		t.Fatalf("full hand tally has no downloads, got %v", d.Downloads)
	}
	if d.SamplesToAudit != "Please audit all of the ballots in your jurisdiction (2,117 ballots)" {
		t.Fatalf("samples = %q", d.SamplesToAudit)
	}
}

func TestSelectReportsRoundCompletionAndBoards(t *testing.T) {
	in := baseInputs()
	ended := time.Now()
	in.Round.EndedAt = &ended
	in.AuditBoards[0].SignedOffAt = &ended
	in.AuditBoards[0].CurrentRoundStatus = audit.BoardCount{NumSampledBallots: 10, NumAuditedBallots: 10}
	d := Select(in)
	if !d.RoundComplete || d.AuditComplete {
		t.Fatalf("round=%v audit=%v", d.RoundComplete, d.AuditComplete)
	}
	want := []BoardProgress{{Name: "Audit Board #1", Audited: 10, Sampled: 10, SignedOff: true}}
	if !reflect.DeepEqual(d.Boards, want) {
		t.Fatalf("boards = %+v", d.Boards)
	}
}

type stubResolver struct {
	count SampleCount
	err   error
	keys  []SampleCountKey
}

func (s *stubResolver) SampleCount(_ context.Context, key SampleCountKey) (SampleCount, error) {
	s.keys = append(s.keys, key)
	return s.count, s.err
}

func TestSampleCountLoaderDistinguishesZeroFromLoading(t *testing.T) {
	key := SampleCountKey{ElectionID: "e", JurisdictionID: "j", RoundID: "r", AuditType: audit.AuditTypeBallotPolling}
	loader := NewSampleCountLoader(key)
	if loader.Count() != nil {
		t.Fatalf("new loader should be loading")
	}
	res := &stubResolver{count: SampleCount{Ballots: 0}}
	count, err := loader.Fetch(context.Background(), res)
	loader.Deliver(count, err)
	got := loader.Count()
	if got == nil || got.Ballots != 0 {
		t.Fatalf("count = %+v, want loaded zero", got)
	}
	if len(res.keys) != 1 || res.keys[0] != key {
		t.Fatalf("resolver keys = %+v", res.keys)
	}
}

func TestSampleCountLoaderFailureStaysLoading(t *testing.T) {
	loader := NewSampleCountLoader(SampleCountKey{AuditType: audit.AuditTypeBallotPolling})
	boom := errors.New("offline")
	count, err := loader.Fetch(context.Background(), &stubResolver{err: boom})
	loader.Deliver(count, err)
	if loader.Count() != nil {
		t.Fatalf("failed fetch must leave loader loading")
	}
	if !errors.Is(loader.Err(), boom) {
		t.Fatalf("err = %v", loader.Err())
	}
}

func TestSampleCountValidate(t *testing.T) {
	cases := []struct {
		name  string
		count SampleCount
		typ   audit.AuditType
		ok    bool
	}{
		{"polling", SampleCount{Ballots: 3}, audit.AuditTypeBallotPolling, true},
		{"polling with batches", SampleCount{Ballots: 3, Batches: intPtr(1)}, audit.AuditTypeBallotPolling, false},
		{"batch", SampleCount{Ballots: 3, Batches: intPtr(1)}, audit.AuditTypeBatchComparison, true},
		{"batch without batches", SampleCount{Ballots: 3}, audit.AuditTypeBatchComparison, false},
		{"negative", SampleCount{Ballots: -1}, audit.AuditTypeBallotPolling, false},
	}
	for _, tc := range cases {
		err := tc.count.Validate(tc.typ)
		if (err == nil) != tc.ok {
			t.Fatalf("%s: err = %v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}
