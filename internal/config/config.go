package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
)

const (
	FileName = "config.json"
	AppDir   = "gamelauncher"

	EditionGlobal = "global"
	EditionChina  = "china"

	DefaultIndexURL      = "https://raw.githubusercontent.com/caedis/gamelauncher-index/main/game.json"
	DefaultPatchIndexURL = "https://raw.githubusercontent.com/caedis/gamelauncher-index/main/patch.json"
	DefaultWineRepo      = "GloriousEggroll/wine-ge-custom"
)

// ErrInvalid is returned when a config fails validation.
var ErrInvalid = errors.New("invalid config")

// SupportedVoices lists voice-over locale codes in their display order.
var SupportedVoices = []string{"en-us", "ja-jp", "ko-kr", "zh-cn"}

var legacyVoiceNames = map[string]string{
	"english":  "en-us",
	"japanese": "ja-jp",
	"korean":   "ko-kr",
	"chinese":  "zh-cn",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type Config struct {
	Launcher   Launcher   `json:"launcher" yaml:"launcher"`
	Game       Game       `json:"game" yaml:"game"`
	Patch      Patch      `json:"patch" yaml:"patch"`
	Components Components `json:"components" yaml:"components"`
}

type Launcher struct {
	Edition string `json:"edition" yaml:"edition" validate:"oneof=global china"`
	// Temp is the staging folder for downloads. Empty means the OS temp dir.
	Temp string `json:"temp,omitempty" yaml:"temp,omitempty"`
}

type Game struct {
	Path   string   `json:"path" yaml:"path" validate:"required"`
	Voices []string `json:"voices" yaml:"voices" validate:"dive,oneof=en-us ja-jp ko-kr zh-cn"`
	Wine   Wine     `json:"wine" yaml:"wine"`
}

type Wine struct {
	// Selected is the directory name of the runtime build under Builds.
	Selected string `json:"selected,omitempty" yaml:"selected,omitempty"`
	Builds   string `json:"builds" yaml:"builds" validate:"required"`
	Prefix   string `json:"prefix" yaml:"prefix" validate:"required"`
}

type Patch struct {
	Path      string `json:"path" yaml:"path" validate:"required"`
	IndexURL  string `json:"index_url" yaml:"index_url" validate:"omitempty,url"`
	ApplyXlua bool   `json:"apply_xlua" yaml:"apply_xlua"`
}

type Components struct {
	IndexURL string `json:"index_url" yaml:"index_url" validate:"omitempty,url"`
	WineRepo string `json:"wine_repo" yaml:"wine_repo"`
}

// DataDir returns the launcher data directory under XDG_DATA_HOME.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppDir)
}

// DefaultPath returns the config file location inside the data directory.
func DefaultPath() string {
	return filepath.Join(DataDir(), FileName)
}

// Default returns the configuration used before anything is persisted.
func Default(dataDir string) Config {
	return Config{
		Launcher: Launcher{Edition: EditionGlobal},
		Game: Game{
			Path:   filepath.Join(dataDir, "Genshin Impact"),
			Voices: []string{"en-us"},
			Wine: Wine{
				Builds: filepath.Join(dataDir, "runners"),
				Prefix: filepath.Join(dataDir, "prefix"),
			},
		},
		Patch: Patch{
			Path:     filepath.Join(dataDir, "patch"),
			IndexURL: DefaultPatchIndexURL,
		},
		Components: Components{
			IndexURL: DefaultIndexURL,
			WineRepo: DefaultWineRepo,
		},
	}
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// TempDir returns the download staging folder.
func (c Config) TempDir() string {
	if c.Launcher.Temp != "" {
		return c.Launcher.Temp
	}
	return os.TempDir()
}

// GameExecutable returns the game binary name for the configured edition.
func (c Config) GameExecutable() string {
	if c.Launcher.Edition == EditionChina {
		return "YuanShen.exe"
	}
	return "GenshinImpact.exe"
}

// RuntimeDir returns the selected runtime build folder, or "" when none is selected.
func (c Config) RuntimeDir() string {
	if c.Game.Wine.Selected == "" {
		return ""
	}
	return filepath.Join(c.Game.Wine.Builds, c.Game.Wine.Selected)
}

// HasVoice reports whether locale is among the configured voices.
func (c Config) HasVoice(locale string) bool {
	return slices.Contains(c.Game.Voices, locale)
}

func (c Config) clone() Config {
	c.Game.Voices = slices.Clone(c.Game.Voices)
	return c
}

// Store owns the persisted config. Every read and write goes through one
// mutex so concurrent workers cannot lose each other's updates.
type Store struct {
	fs       afero.Fs
	path     string
	defaults Config

	mu      sync.Mutex
	current Config
	loaded  bool
	dirty   bool
}

func NewStore(fs afero.Fs, path string, defaults Config) *Store {
	return &Store{fs: fs, path: path, defaults: defaults.clone()}
}

// Path returns the config file location.
func (s *Store) Path() string {
	return s.path
}

// Get returns the current config, reading it from disk on first use. A
// missing file yields the defaults.
func (s *Store) Get() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		cfg, err := s.load()
		if err != nil {
			return Config{}, err
		}
		s.current = cfg
		s.loaded = true
	}
	return s.current.clone(), nil
}

// GetOrDefault returns the current config or, when it cannot be read, the
// in-memory defaults.
func (s *Store) GetOrDefault() Config {
	cfg, err := s.Get()
	if err != nil {
		return s.defaults.clone()
	}
	return cfg
}

// Update replaces the in-memory config. It is written on the next Flush.
func (s *Store) Update(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = cfg.clone()
	s.loaded = true
	s.dirty = true
}

// UpdateRaw validates cfg and writes it to disk immediately.
func (s *Store) UpdateRaw(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(cfg); err != nil {
		return err
	}
	s.current = cfg.clone()
	s.loaded = true
	s.dirty = false
	return nil
}

// Flush writes pending in-memory changes to disk.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	if err := s.current.Validate(); err != nil {
		return err
	}
	if err := s.write(s.current); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *Store) load() (Config, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.defaults.clone(), nil
		}
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	cfg := s.defaults.clone()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	// Backward-compatibility migration:
	// - old configs stored voices by language name ("english")
	for i, voice := range cfg.Game.Voices {
		if code, ok := legacyVoiceNames[strings.ToLower(strings.TrimSpace(voice))]; ok {
			cfg.Game.Voices[i] = code
		}
	}
	if cfg.Game.Voices == nil {
		cfg.Game.Voices = []string{}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (s *Store) write(cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	tmpPath := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("finalizing config: %w", err)
	}
	return nil
}
