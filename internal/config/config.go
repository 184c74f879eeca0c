// internal/config/config.go
//
// Configuration and the .arlo directory layout. Every workspace the client
// runs in gets an .arlo/ folder holding config.yaml, logs and the local
// submission journal.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/arlo-client/internal/stagegate"
)

const (
	// ArloDir is the per-workspace directory the client owns.
	ArloDir = ".arlo"

	defaultTokenEnv   = "ARLO_API_TOKEN"
	defaultLogLevel   = "info"
	defaultJournal    = "journal.db"
	defaultSnapshot   = "snapshot.yaml"
	defaultServerURL  = "http://localhost:3000"
	defaultRetryCount = 3
)

const defaultProjectConfigYAML = `# arlo client configuration
version: 1

server:
  url: http://localhost:3000
  # Name of the environment variable holding the API token.
  token_env: ARLO_API_TOKEN
  retries: 3

audit:
  election_id: ""
  jurisdiction_id: ""
  # Set when this terminal is used by an audit board.
  audit_board_id: ""

# Record submissions locally without a server.
offline: false

log_level: info
journal: journal.db
# Round data used when offline. Refresh it with "arlo-client snapshot".
snapshot: snapshot.yaml

setup:
  stages:
    - Participants
    - Target Contests
    - Opportunistic Contests
    - Audit Settings
    - Review & Launch
`

// ServerConfig describes the Arlo server the client talks to.
type ServerConfig struct {
	URL      string `yaml:"url"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Retries  int    `yaml:"retries,omitempty"`
}

// AuditConfig selects the election, jurisdiction and audit board.
type AuditConfig struct {
	ElectionID     string `yaml:"election_id"`
	JurisdictionID string `yaml:"jurisdiction_id"`
	AuditBoardID   string `yaml:"audit_board_id,omitempty"`
}

// SetupConfig lists the setup wizard stages in order and how many of them
// have been completed.
type SetupConfig struct {
	Stages    []string `yaml:"stages"`
	Completed int      `yaml:"completed,omitempty"`
}

// ProjectConfig models .arlo/config.yaml.
type ProjectConfig struct {
	Version  int          `yaml:"version"`
	Server   ServerConfig `yaml:"server"`
	Audit    AuditConfig  `yaml:"audit"`
	Offline  bool         `yaml:"offline"`
	LogLevel string       `yaml:"log_level"`
	Journal  string       `yaml:"journal"`
	Snapshot string       `yaml:"snapshot"`
	Setup    SetupConfig  `yaml:"setup"`
}

// Config holds the runtime configuration.
type Config struct {
	// WorkDir is where the client was started.
	WorkDir string
	// ArloDir is WorkDir/.arlo
	ArloDir string

	Project ProjectConfig
}

// InitArloDir creates the .arlo directory structure and a default config
// file if none exists.
//
// .arlo/
// ├── config.yaml
// ├── logs/
// ├── snapshot.yaml <- written by "arlo-client snapshot"
// └── journal.db    <- created on first submission
func InitArloDir(workDir string) error {
	arloDir := filepath.Join(workDir, ArloDir)
	if err := os.MkdirAll(filepath.Join(arloDir, "logs"), 0o755); err != nil {
		return fmt.Errorf("config: ensure arlo dir: %w", err)
	}
	return ensureProjectConfig(filepath.Join(arloDir, "config.yaml"))
}

// Load reads .arlo/config.yaml under workDir. A missing file yields the
// defaults.
func Load(workDir string) (*Config, error) {
	cfg := &Config{
		WorkDir: workDir,
		ArloDir: filepath.Join(workDir, ArloDir),
		Project: defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProjectConfigPath returns the on-disk location of the config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ArloDir, "config.yaml")
}

// LogsDir returns the log directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.ArloDir, "logs")
}

// JournalPath returns the SQLite journal location.
func (c *Config) JournalPath() string {
	return c.Project.Journal
}

// SnapshotPath returns the offline round snapshot location.
func (c *Config) SnapshotPath() string {
	return c.Project.Snapshot
}

// Stages returns the configured setup stages.
func (c *Config) Stages() []string {
	return append([]string(nil), c.Project.Setup.Stages...)
}

// SetSetupCompleted records wizard progress. Only setup.completed changes
// on disk; flag and environment overrides stay in memory and the rest of
// the file is written back as the user left it.
func (c *Config) SetSetupCompleted(n int) error {
	if n < 0 || n > len(c.Project.Setup.Stages) {
		return fmt.Errorf("config: setup.completed must be between 0 and %d", len(c.Project.Setup.Stages))
	}
	if err := os.MkdirAll(c.ArloDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure arlo dir: %w", err)
	}
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		data = []byte(defaultProjectConfigYAML)
	} else if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("config: %s is not a mapping", path)
	}
	setup := mappingEntry(doc.Content[0], "setup")
	setScalar(setup, "completed", "!!int", strconv.Itoa(n))

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	c.Project.Setup.Completed = n
	return nil
}

// mappingEntry returns the mapping stored under key, creating it (or
// replacing a scalar such as an empty "setup:") when needed.
func mappingEntry(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value != key {
			continue
		}
		if m.Content[i+1].Kind != yaml.MappingNode {
			m.Content[i+1] = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		}
		return m.Content[i+1]
	}
	value := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value)
	return value
}

func setScalar(m *yaml.Node, key, tag, value string) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
			return
		}
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value},
	)
}

// APIToken reads the token from the configured environment variable.
func (c *Config) APIToken() string {
	return strings.TrimSpace(os.Getenv(c.Project.Server.TokenEnv))
}

// Override applies non-empty values on top of the file config, then
// re-validates. The CLI uses it for flag and environment overrides.
func (c *Config) Override(o Overrides) error {
	if o.ServerURL != "" {
		c.Project.Server.URL = o.ServerURL
	}
	if o.ElectionID != "" {
		c.Project.Audit.ElectionID = o.ElectionID
	}
	if o.JurisdictionID != "" {
		c.Project.Audit.JurisdictionID = o.JurisdictionID
	}
	if o.AuditBoardID != "" {
		c.Project.Audit.AuditBoardID = o.AuditBoardID
	}
	if o.LogLevel != "" {
		c.Project.LogLevel = o.LogLevel
	}
	if o.Offline != nil {
		c.Project.Offline = *o.Offline
	}
	c.Project.normalize(c.ArloDir)
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Overrides carries command-line or environment values.
type Overrides struct {
	ServerURL      string
	ElectionID     string
	JurisdictionID string
	AuditBoardID   string
	LogLevel       string
	Offline        *bool
}

// Save writes the whole in-memory project config, overrides included.
// Journal and snapshot paths under .arlo are written relative to it.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize(c.ArloDir)
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.ArloDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure arlo dir: %w", err)
	}
	out := c.Project
	out.Journal = relativeTo(c.ArloDir, out.Journal)
	out.Snapshot = relativeTo(c.ArloDir, out.Snapshot)
	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.Project.normalize(c.ArloDir)
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize(c.ArloDir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Server.URL) == "" {
		pc.Server.URL = defaultServerURL
	}
	if strings.TrimSpace(pc.Server.TokenEnv) == "" {
		pc.Server.TokenEnv = defaultTokenEnv
	}
	if pc.Server.Retries == 0 {
		pc.Server.Retries = defaultRetryCount
	}
	if strings.TrimSpace(pc.LogLevel) == "" {
		pc.LogLevel = defaultLogLevel
	}
	if strings.TrimSpace(pc.Journal) == "" {
		pc.Journal = defaultJournal
	}
	if strings.TrimSpace(pc.Snapshot) == "" {
		pc.Snapshot = defaultSnapshot
	}
	if len(pc.Setup.Stages) == 0 {
		pc.Setup.Stages = append([]string(nil), stagegate.DefaultStages...)
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Server.URL = strings.TrimRight(strings.TrimSpace(pc.Server.URL), "/")
	pc.Server.TokenEnv = strings.TrimSpace(pc.Server.TokenEnv)
	pc.Audit.ElectionID = strings.TrimSpace(pc.Audit.ElectionID)
	pc.Audit.JurisdictionID = strings.TrimSpace(pc.Audit.JurisdictionID)
	pc.Audit.AuditBoardID = strings.TrimSpace(pc.Audit.AuditBoardID)
	pc.LogLevel = strings.ToLower(strings.TrimSpace(pc.LogLevel))
	pc.Journal = resolvePath(base, pc.Journal)
	pc.Snapshot = resolvePath(base, pc.Snapshot)
	stages := make([]string, 0, len(pc.Setup.Stages))
	for _, s := range pc.Setup.Stages {
		if s = strings.TrimSpace(s); s != "" {
			stages = append(stages, s)
		}
	}
	pc.Setup.Stages = stages
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if !pc.Offline {
		u, err := url.Parse(pc.Server.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("server.url %q is not an absolute URL", pc.Server.URL)
		}
	}
	if pc.Server.Retries < 0 {
		return fmt.Errorf("server.retries must be >= 0")
	}
	switch pc.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	if _, err := stagegate.New(pc.Setup.Stages); err != nil {
		return fmt.Errorf("setup.stages: %w", err)
	}
	if pc.Setup.Completed < 0 || pc.Setup.Completed > len(pc.Setup.Stages) {
		return fmt.Errorf("setup.completed must be between 0 and %d", len(pc.Setup.Stages))
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

// relativeTo undoes resolvePath for files kept under base.
func relativeTo(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
