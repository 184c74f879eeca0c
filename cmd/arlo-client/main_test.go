package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/kingrea/arlo-client/internal/audit"
	"github.com/kingrea/arlo-client/internal/journal"
	"github.com/kingrea/arlo-client/internal/round"
	"github.com/kingrea/arlo-client/internal/snapshot"
)

func TestDispatchFromSnapshot(t *testing.T) {
	store := writeSnapshot(t, snapshot.Snapshot{
		ElectionID:   "e1",
		Jurisdiction: audit.Jurisdiction{ID: "j1", Name: "Lake County", NumBallots: 5000},
		Settings:     audit.Settings{AuditName: "Primary", AuditType: audit.AuditTypeBallotPolling, Online: false},
		Round:        &audit.Round{ID: "r1", RoundNum: 2},
		SampleCount:  &round.SampleCount{Ballots: 1200},
		AuditBoards: []audit.AuditBoard{{
			ID:                 "ab1",
			Name:               "Audit Board #1",
			CurrentRoundStatus: audit.BoardCount{NumSampledBallots: 1200, NumAuditedBallots: 40},
		}},
	})

	d, started, err := dispatch(context.Background(), store, "e1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !started {
		t.Fatalf("expected a started round")
	}
	if d.View != round.ViewOfflineRoundProgress {
		t.Fatalf("view = %s", d.View)
	}

	var out bytes.Buffer
	printDecision(&out, d)
	for _, want := range []string{"Round 2 Data Entry", "Ballots to audit: 1,200", "Audit Board #1", "40"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestDispatchBeforeRoundStarts(t *testing.T) {
	store := writeSnapshot(t, snapshot.Snapshot{
		ElectionID: "e1",
		Settings:   audit.Settings{AuditType: audit.AuditTypeBallotPolling},
	})
	_, started, err := dispatch(context.Background(), store, "e1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if started {
		t.Fatalf("expected no round")
	}
}

func TestPrintDecisionMessageOnly(t *testing.T) {
	var out bytes.Buffer
	printDecision(&out, round.Decision{View: round.ViewComplete, Message: "done"})
	if got := out.String(); got != "done\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestPrintHistory(t *testing.T) {
	var out bytes.Buffer
	printHistory(&out, nil)
	if !strings.Contains(out.String(), "No submissions") {
		t.Fatalf("empty history = %q", out.String())
	}

	out.Reset()
	printHistory(&out, []journal.Entry{{
		Key:         audit.BallotKey{BatchID: "b1", Position: 3},
		Status:      journal.StatusFailed,
		Error:       "server unavailable",
		SubmittedAt: time.Now().Add(-2 * time.Hour),
	}})
	for _, want := range []string{"b1#3", "failed", "server unavailable", "2 hours ago"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("history missing %q:\n%s", want, out.String())
		}
	}
}

func TestResolveWorkDirExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	got, err := resolveWorkDir("~/audit")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := filepath.Join(home, "audit"); got != want {
		t.Fatalf("workdir = %q, want %q", got, want)
	}
}

func TestOverridesFromViper(t *testing.T) {
	viper.Set("election", "e9")
	viper.Set("log-level", "debug")
	t.Cleanup(func() {
		viper.Set("election", nil)
		viper.Set("log-level", nil)
		viper.Set("offline", nil)
	})
	o := overridesFromViper()
	if o.ElectionID != "e9" || o.LogLevel != "debug" {
		t.Fatalf("overrides = %+v", o)
	}
	if o.Offline != nil {
		t.Fatalf("offline should be unset")
	}
	viper.Set("offline", true)
	if o = overridesFromViper(); o.Offline == nil || !*o.Offline {
		t.Fatalf("offline override not applied")
	}
}

func writeSnapshot(t *testing.T, snap snapshot.Snapshot) *snapshot.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	if err := snapshot.Write(path, snap); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	store, err := snapshot.Open(path)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	return store
}
