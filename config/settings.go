package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server         ServerSettings          `json:"server"`
	Database       DatabaseSettings        `json:"database"`
	DebridAccounts []DebridAccountSettings `json:"debridAccounts"`
	Engine         EngineSettings          `json:"engine"`
	Log            LogConfig               `json:"log"`
}

type ServerSettings struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	APIKey string `json:"apiKey"`
}

// DatabaseSettings defines where the SQLite database lives.
type DatabaseSettings struct {
	Path string `json:"path"`
}

// DebridAccountSettings is one configured debrid account. Every acquisition
// names the account it runs under; there is no fallback to "whichever account
// has a token".
type DebridAccountSettings struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"` // realdebrid | alldebrid | premiumize | debridlink
	APIKey   string `json:"apiKey"`
	Enabled  bool   `json:"enabled"`
}

// PollBudget bounds the acquisition poll loop for one provider.
type PollBudget struct {
	Attempts        int `json:"attempts"`
	IntervalSeconds int `json:"intervalSeconds"`
}

// EngineSettings tunes selection, polling, and link lifetime behavior.
type EngineSettings struct {
	MinSizeMB int `json:"minSizeMb"`
	MaxSizeMB int `json:"maxSizeMb"`

	LinkTTLHours            int `json:"linkTtlHours"`
	RefreshThresholdMinutes int `json:"refreshThresholdMinutes"`
	CleanupAgeDays          int `json:"cleanupAgeDays"`

	// PollBudgets overrides the default poll budget per provider name.
	PollBudgets map[string]PollBudget `json:"pollBudgets,omitempty"`

	RefreshIntervalMinutes    int `json:"refreshIntervalMinutes"`
	InvalidateIntervalMinutes int `json:"invalidateIntervalMinutes"`
	CleanupIntervalHours      int `json:"cleanupIntervalHours"`
	PendingCheckMinutes       int `json:"pendingCheckMinutes"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server:         ServerSettings{Host: "0.0.0.0", Port: 8484},
		Database:       DatabaseSettings{Path: "data/bridgarr.db"},
		DebridAccounts: []DebridAccountSettings{},
		Engine: EngineSettings{
			MinSizeMB:                 700,
			MaxSizeMB:                 15360,
			LinkTTLHours:              4,
			RefreshThresholdMinutes:   30,
			CleanupAgeDays:            7,
			PollBudgets:               map[string]PollBudget{},
			RefreshIntervalMinutes:    15,
			InvalidateIntervalMinutes: 60,
			CleanupIntervalHours:      24,
			PendingCheckMinutes:       5,
		},
		Log: LogConfig{
			File:       "data/logs/bridgarr.log",
			Level:      "info",
			MaxSize:    50,   // 50 MB per file
			MaxBackups: 3,    // keep 3 old files
			MaxAge:     7,    // 7 days
			Compress:   true, // compress old files
		},
	}
}

// GetAccountByID returns a debrid account by its ID, or nil if not found.
func (s *Settings) GetAccountByID(id string) *DebridAccountSettings {
	for i := range s.DebridAccounts {
		if s.DebridAccounts[i].ID == id {
			return &s.DebridAccounts[i]
		}
	}
	return nil
}

// EnabledAccounts returns the accounts available for scheduled sweeps.
func (s *Settings) EnabledAccounts() []DebridAccountSettings {
	var out []DebridAccountSettings
	for _, a := range s.DebridAccounts {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings.json from disk or creates defaults if missing.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		// create with defaults
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	var s Settings
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return Settings{}, err
	}

	// Backfill defaults for newly introduced settings when config predates them
	if strings.TrimSpace(s.Server.Host) == "" {
		s.Server.Host = "0.0.0.0"
	}
	if s.Server.Port == 0 {
		s.Server.Port = 8484
	}
	if strings.TrimSpace(s.Database.Path) == "" {
		s.Database.Path = "data/bridgarr.db"
	}
	if s.DebridAccounts == nil {
		s.DebridAccounts = []DebridAccountSettings{}
	}

	if s.Engine.MinSizeMB == 0 {
		s.Engine.MinSizeMB = 700
	}
	if s.Engine.MaxSizeMB == 0 {
		s.Engine.MaxSizeMB = 15360
	}
	if s.Engine.LinkTTLHours == 0 {
		s.Engine.LinkTTLHours = 4
	}
	if s.Engine.RefreshThresholdMinutes == 0 {
		s.Engine.RefreshThresholdMinutes = 30
	}
	if s.Engine.CleanupAgeDays == 0 {
		s.Engine.CleanupAgeDays = 7
	}
	if s.Engine.PollBudgets == nil {
		s.Engine.PollBudgets = map[string]PollBudget{}
	}
	if s.Engine.RefreshIntervalMinutes == 0 {
		s.Engine.RefreshIntervalMinutes = 15
	}
	if s.Engine.InvalidateIntervalMinutes == 0 {
		s.Engine.InvalidateIntervalMinutes = 60
	}
	if s.Engine.CleanupIntervalHours == 0 {
		s.Engine.CleanupIntervalHours = 24
	}
	if s.Engine.PendingCheckMinutes == 0 {
		s.Engine.PendingCheckMinutes = 5
	}

	// Backfill Log settings
	if strings.TrimSpace(s.Log.File) == "" {
		s.Log.File = "data/logs/bridgarr.log"
	}
	if s.Log.MaxSize == 0 {
		s.Log.MaxSize = 50
	}
	if s.Log.MaxBackups == 0 {
		s.Log.MaxBackups = 3
	}
	if s.Log.MaxAge == 0 {
		s.Log.MaxAge = 7
	}

	return s, nil
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}
