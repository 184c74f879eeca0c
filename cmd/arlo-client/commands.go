package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kingrea/arlo-client/internal/config"
	"github.com/kingrea/arlo-client/internal/journal"
	"github.com/kingrea/arlo-client/internal/round"
	"github.com/kingrea/arlo-client/internal/snapshot"
	"github.com/kingrea/arlo-client/internal/tui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Creates .arlo/ with a default config.yaml.",
	RunE: func(cmd *cobra.Command, args []string) error {
		workDir, err := resolveWorkDir(viper.GetString("workdir"))
		if err != nil {
			return err
		}
		if err := config.InitArloDir(workDir); err != nil {
			return err
		}
		cfg, err := config.Load(workDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Config ready at %s\n", cfg.ProjectConfigPath())
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Saves the current round locally so data entry can continue offline.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()
		client, err := s.client()
		if err != nil {
			return err
		}
		snap, err := snapshot.Capture(cmd.Context(), client, s.cfg.Project.Audit.ElectionID)
		if err != nil {
			return err
		}
		if err := snapshot.Write(s.cfg.SnapshotPath(), snap); err != nil {
			return err
		}
		ballots := 0
		for _, list := range snap.Ballots {
			ballots += len(list)
		}
		roundLabel := "no round yet"
		if snap.Round != nil {
			roundLabel = fmt.Sprintf("round %d", snap.Round.RoundNum)
		}
		s.logger.Printf("snapshot written to %s", s.cfg.SnapshotPath())
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s for %s: %s ballot(s) across %d audit board(s) → %s\n",
			roundLabel, snap.Jurisdiction.Name, humanize.Comma(int64(ballots)), len(snap.AuditBoards), s.cfg.SnapshotPath())
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Prints the ballot submissions recorded on this terminal.",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()
		entries, err := s.journal.Entries(cmd.Context(), limit)
		if err != nil {
			return err
		}
		printHistory(cmd.OutOrStdout(), entries)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Prints what the current round needs from this jurisdiction.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.requireAudit(); err != nil {
			return err
		}
		be, _, err := s.backend()
		if err != nil {
			return err
		}
		d, started, err := dispatch(cmd.Context(), be, s.cfg.Project.Audit.ElectionID)
		if err != nil {
			return err
		}
		if !started {
			fmt.Fprintln(cmd.OutOrStdout(), "The audit has not started yet.")
			return nil
		}
		printDecision(cmd.OutOrStdout(), d)
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of submissions to show")
	rootCmd.AddCommand(initCmd, snapshotCmd, historyCmd, statusCmd)
}

// dispatch loads the round inputs once and selects the view.
func dispatch(ctx context.Context, be tui.Backend, electionID string) (round.Decision, bool, error) {
	settings, err := be.Settings(ctx)
	if err != nil {
		return round.Decision{}, false, err
	}
	jurisdiction, err := be.Jurisdiction(ctx)
	if err != nil {
		return round.Decision{}, false, err
	}
	r, ok, err := be.CurrentRound(ctx)
	if err != nil || !ok {
		return round.Decision{}, false, err
	}
	boards, err := be.AuditBoards(ctx, r.ID)
	if err != nil {
		return round.Decision{}, false, err
	}
	loader := round.NewSampleCountLoader(round.SampleCountKey{
		ElectionID:     electionID,
		JurisdictionID: jurisdiction.ID,
		RoundID:        r.ID,
		AuditType:      settings.AuditType,
	})
	count, err := loader.Fetch(ctx, be)
	if err != nil {
		return round.Decision{}, false, err
	}
	loader.Deliver(count, nil)
	return round.Select(round.Inputs{
		Round:        r,
		Settings:     &settings,
		AuditBoards:  boards,
		SampleCount:  loader.Count(),
		Jurisdiction: &jurisdiction,
	}), true, nil
}

func printDecision(w io.Writer, d round.Decision) {
	if d.Message != "" {
		fmt.Fprintln(w, d.Message)
		return
	}
	fmt.Fprintln(w, d.Heading)
	if d.SamplesToAudit != "" {
		fmt.Fprintln(w, d.SamplesToAudit)
	}
	fmt.Fprintf(w, "View: %s\n", d.View)
	for _, dl := range d.Downloads {
		fmt.Fprintf(w, "  • %s\n", dl)
	}
	if len(d.Boards) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "BOARD\tAUDITED\tSAMPLED\tSIGNED OFF\t")
	for _, b := range d.Boards {
		signed := "no"
		if b.SignedOff {
			signed = "yes"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t\n", b.Name, b.Audited, b.Sampled, signed)
	}
	tw.Flush()
}

func printHistory(w io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No submissions recorded yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tBALLOT\tSTATUS\tERROR\t")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", humanize.Time(e.SubmittedAt), e.Key, e.Status, strings.TrimSpace(e.Error))
	}
	tw.Flush()
}
