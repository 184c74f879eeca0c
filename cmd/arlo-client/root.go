package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kingrea/arlo-client/internal/arloapi"
	"github.com/kingrea/arlo-client/internal/ballot"
	"github.com/kingrea/arlo-client/internal/config"
	"github.com/kingrea/arlo-client/internal/journal"
	"github.com/kingrea/arlo-client/internal/logbook"
	"github.com/kingrea/arlo-client/internal/logging"
	"github.com/kingrea/arlo-client/internal/snapshot"
	"github.com/kingrea/arlo-client/internal/tui"
)

const requestTimeout = 30 * time.Second

// rootCmd runs the terminal UI when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "arlo-client",
	Short: "Terminal client for running a jurisdiction's risk-limiting audit rounds.",
	Long: `arlo-client walks a jurisdiction through each audit round: audit board
setup, ballot data entry and round progress. Settings live in .arlo/config.yaml
under the working directory and can be overridden with flags or ARLO_*
environment variables. A .env file in the working directory is loaded first.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()
		return s.runTUI()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("workdir", "", "workspace holding .arlo/ (default is the current directory)")
	flags.String("server", "", "Arlo server URL")
	flags.String("election", "", "election id")
	flags.String("jurisdiction", "", "jurisdiction id")
	flags.String("board", "", "audit board id used for ballot data entry")
	flags.StringP("log-level", "l", "", "log level: debug, info, warn, error")
	flags.Bool("offline", false, "work from the local snapshot instead of the server")

	for _, name := range []string{"workdir", "server", "election", "jurisdiction", "board", "log-level", "offline"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// initConfig loads .env and enables ARLO_* environment overrides.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}
	viper.SetEnvPrefix("arlo")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// resolveWorkDir expands ~ and makes the workspace path absolute.
func resolveWorkDir(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return os.Getwd()
	}
	expanded, err := homedir.Expand(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("resolve workdir: %w", err)
	}
	return filepath.Abs(expanded)
}

func overridesFromViper() config.Overrides {
	o := config.Overrides{
		ServerURL:      viper.GetString("server"),
		ElectionID:     viper.GetString("election"),
		JurisdictionID: viper.GetString("jurisdiction"),
		AuditBoardID:   viper.GetString("board"),
		LogLevel:       viper.GetString("log-level"),
	}
	if viper.IsSet("offline") {
		offline := viper.GetBool("offline")
		o.Offline = &offline
	}
	return o
}

// session is everything a command needs from the workspace.
type session struct {
	cfg     *config.Config
	logger  *logging.Logger
	journal *journal.Journal
}

func openSession() (*session, error) {
	workDir, err := resolveWorkDir(viper.GetString("workdir"))
	if err != nil {
		return nil, err
	}
	if err := config.InitArloDir(workDir); err != nil {
		return nil, err
	}
	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Override(overridesFromViper()); err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogsDir(), cfg.Project.LogLevel)
	if err != nil {
		return nil, err
	}
	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		logger.Close()
		return nil, err
	}
	logger.With("workdir", workDir).Debugf("session opened")
	return &session{cfg: cfg, logger: logger, journal: j}, nil
}

func (s *session) Close() {
	if err := s.journal.Close(); err != nil {
		s.logger.Errorf("closing journal: %v", err)
	}
	s.logger.Close()
}

func (s *session) requireAudit() error {
	a := s.cfg.Project.Audit
	if a.ElectionID == "" || a.JurisdictionID == "" {
		return fmt.Errorf("set audit.election_id and audit.jurisdiction_id in %s (or pass --election and --jurisdiction)", s.cfg.ProjectConfigPath())
	}
	return nil
}

func (s *session) client() (*arloapi.Client, error) {
	if err := s.requireAudit(); err != nil {
		return nil, err
	}
	token := s.cfg.APIToken()
	if token == "" {
		s.logger.Printf("no API token in $%s; requests are unauthenticated", s.cfg.Project.Server.TokenEnv)
	}
	return arloapi.New(arloapi.Options{
		BaseURL:        s.cfg.Project.Server.URL,
		Token:          token,
		ElectionID:     s.cfg.Project.Audit.ElectionID,
		JurisdictionID: s.cfg.Project.Audit.JurisdictionID,
		Retries:        s.cfg.Project.Server.Retries,
		Timeout:        requestTimeout,
		Logger:         s.logger,
	})
}

// backend picks the server or the offline snapshot. Every submitter it
// hands out is journaled.
func (s *session) backend() (tui.Backend, tui.SubmitterFactory, error) {
	if s.cfg.Project.Offline {
		store, err := snapshot.Open(s.cfg.SnapshotPath())
		if errors.Is(err, snapshot.ErrNoSnapshot) {
			return nil, nil, fmt.Errorf("offline mode needs %s; run \"arlo-client snapshot\" while online", s.cfg.SnapshotPath())
		}
		if err != nil {
			return nil, nil, err
		}
		submitter := s.journal.Wrap(store)
		return store, func(string, string) ballot.Submitter { return submitter }, nil
	}
	client, err := s.client()
	if err != nil {
		return nil, nil, err
	}
	return client, func(roundID, boardID string) ballot.Submitter {
		return s.journal.Wrap(client.BoardSubmitter(roundID, boardID))
	}, nil
}

func (s *session) runTUI() error {
	be, submitters, err := s.backend()
	if err != nil {
		return err
	}
	lb, err := logbook.New(filepath.Join(s.cfg.LogsDir(), "audit.log"))
	if err != nil {
		return err
	}
	app, err := tui.NewApp(tui.Options{
		Backend:        be,
		Submitters:     submitters,
		ElectionID:     s.cfg.Project.Audit.ElectionID,
		JurisdictionID: s.cfg.Project.Audit.JurisdictionID,
		AuditBoardID:   s.cfg.Project.Audit.AuditBoardID,
		Offline:        s.cfg.Project.Offline,
		Stages:         s.cfg.Stages(),
		SetupCompleted: s.cfg.Project.Setup.Completed,
		SaveSetup:      s.cfg.SetSetupCompleted,
	},
		tui.WithLogbook(lb),
		tui.WithLogger(s.logger),
		tui.WithRequestTimeout(requestTimeout),
	)
	if err != nil {
		return err
	}

	// Run blocks until the user quits
	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}
