// Package config loads user preferences from ~/.panedeck/config.toml.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// UserConfigFileName is the TOML config file for user preferences
const UserConfigFileName = "config.toml"

// StateDBFileName is the SQLite database holding layouts and terminal buffers
const StateDBFileName = "state.db"

// UserConfig represents user-facing configuration in TOML format
type UserConfig struct {
	Layout   LayoutSettings   `toml:"layout"`
	Terminal TerminalSettings `toml:"terminal"`
	Prefetch PrefetchSettings `toml:"prefetch"`
	Web      WebSettings      `toml:"web"`
	Logs     LogSettings      `toml:"logs"`
}

// LayoutSettings tunes the workspace layout engine.
type LayoutSettings struct {
	// StructuralDebounceMs is the save delay after a panel is added or removed
	// Default: 300
	StructuralDebounceMs int `toml:"structural_debounce_ms"`

	// GeometricDebounceMs is the save delay after a pure resize or drag.
	// Splitter drags fire continuously, so this window is long.
	// Default: 1500
	GeometricDebounceMs int `toml:"geometric_debounce_ms"`

	// RuntimeStateDelayMs delays recomputing panel open/visible flags
	// Default: 16
	RuntimeStateDelayMs int `toml:"runtime_state_delay_ms"`

	// SidebarWidth is the initial width of the directory/git group
	// Default: 260
	SidebarWidth int `toml:"sidebar_width"`

	// TerminalHeight is the initial height of the terminal group
	// Default: 240
	TerminalHeight int `toml:"terminal_height"`

	// ContainerWidth and ContainerHeight size the layout before the first resize
	// Defaults: 1440 x 900
	ContainerWidth  int `toml:"container_width"`
	ContainerHeight int `toml:"container_height"`

	// ContainerResizeDebounceMs coalesces workspace container resizes
	// Default: 100
	ContainerResizeDebounceMs int `toml:"container_resize_debounce_ms"`
}

// TerminalSettings tunes PTY sessions and terminal surfaces.
type TerminalSettings struct {
	// Shell is the program started for new PTYs. Empty uses $SHELL, then /bin/sh.
	Shell string `toml:"shell"`

	// ResizeDebounceMs coalesces container resize bursts before resizing the PTY
	// Default: 100
	ResizeDebounceMs int `toml:"resize_debounce_ms"`

	// FrameDelayMs defers focus re-fit until the layout has settled
	// Default: 16
	FrameDelayMs int `toml:"frame_delay_ms"`

	// MinCols and MinRows are the smallest container a fit is applied to
	// Defaults: 20 x 5
	MinCols int `toml:"min_cols"`
	MinRows int `toml:"min_rows"`

	// ScrollbackLines bounds the headless surface buffer
	// Default: 5000
	ScrollbackLines int `toml:"scrollback_lines"`

	// ScrollbackKB bounds the same buffer in bytes, which is also the largest
	// snapshot stored for a terminal
	// Default: 1024
	ScrollbackKB int `toml:"scrollback_kb"`

	// DetachedBufferKB bounds output kept for a PTY with no attached surface
	// Default: 1024
	DetachedBufferKB int `toml:"detached_buffer_kb"`

	// ImageDir is where pasted images referenced as "[Image #N]" are stored
	// Default: ~/.panedeck/images
	ImageDir string `toml:"image_dir"`
}

// PrefetchSettings tunes idle-time prefetch of inactive projects.
type PrefetchSettings struct {
	// Enabled turns idle prefetch on (default: true)
	Enabled *bool `toml:"enabled"`

	// IdleIntervalSecs is how often the prefetcher looks for stale projects
	// Default: 10
	IdleIntervalSecs int `toml:"idle_interval_secs"`

	// StaleAfterSecs is the cache age above which a project is refreshed
	// Default: 30
	StaleAfterSecs int `toml:"stale_after_secs"`

	// RatePerSecond bounds collaborator calls issued by the prefetcher
	// Default: 4
	RatePerSecond float64 `toml:"rate_per_second"`
}

// WebSettings configures `panedeck serve`.
type WebSettings struct {
	// ListenAddr default: 127.0.0.1:8421
	ListenAddr string `toml:"listen_addr"`

	// Token, when set, is required as ?token= or a bearer header
	Token string `toml:"token"`
}

// LogSettings defines debug log configuration
type LogSettings struct {
	// Level: "debug", "info" (default), "warn", "error"
	Level string `toml:"level"`

	// Format: "json" (default) or "text"
	Format string `toml:"format"`

	MaxSizeMB     int  `toml:"max_size_mb"`
	Backups       int  `toml:"backups"`
	RetentionDays int  `toml:"retention_days"`
	Compress      bool `toml:"compress"`

	// AggregateIntervalSecs flushes high-frequency event summaries
	// Default: 30
	AggregateIntervalSecs int `toml:"aggregate_interval_secs"`
}

var (
	userConfigCache   *UserConfig
	userConfigCacheMu sync.RWMutex
)

var defaultUserConfig = UserConfig{}

// GetPanedeckDir returns the state directory. PANEDECK_HOME overrides ~/.panedeck.
func GetPanedeckDir() (string, error) {
	if dir := os.Getenv("PANEDECK_HOME"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".panedeck"), nil
}

// GetUserConfigPath returns the path to config.toml
func GetUserConfigPath() (string, error) {
	dir, err := GetPanedeckDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, UserConfigFileName), nil
}

// GetStateDBPath returns the path to the SQLite state database
func GetStateDBPath() (string, error) {
	dir, err := GetPanedeckDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, StateDBFileName), nil
}

// LoadUserConfig loads the user configuration from TOML file.
// Returns the cached config after the first load.
func LoadUserConfig() (*UserConfig, error) {
	userConfigCacheMu.RLock()
	if userConfigCache != nil {
		defer userConfigCacheMu.RUnlock()
		return userConfigCache, nil
	}
	userConfigCacheMu.RUnlock()

	userConfigCacheMu.Lock()
	defer userConfigCacheMu.Unlock()

	if userConfigCache != nil {
		return userConfigCache, nil
	}

	configPath, err := GetUserConfigPath()
	if err != nil {
		userConfigCache = &defaultUserConfig
		return userConfigCache, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		userConfigCache = &defaultUserConfig
		return userConfigCache, nil
	}

	var cfg UserConfig
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		// Cache defaults so a broken file is not re-parsed on every call.
		userConfigCache = &defaultUserConfig
		return userConfigCache, fmt.Errorf("config.toml parse error: %w", err)
	}

	userConfigCache = &cfg
	return userConfigCache, nil
}

// SaveUserConfig writes the config with a temp-file + fsync + rename sequence
// and clears the cache.
func SaveUserConfig(cfg *UserConfig) error {
	configPath, err := GetUserConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# panedeck configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if f, err := os.Open(tmpPath); err == nil {
		_ = f.Sync()
		f.Close()
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}

	ClearUserConfigCache()
	return nil
}

// ClearUserConfigCache drops the cached config; the next load reads from disk.
func ClearUserConfigCache() {
	userConfigCacheMu.Lock()
	userConfigCache = nil
	userConfigCacheMu.Unlock()
}

func loadOrDefault() *UserConfig {
	cfg, err := LoadUserConfig()
	if err != nil || cfg == nil {
		return &defaultUserConfig
	}
	return cfg
}

func ms(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Millisecond
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// LayoutOptions are the resolved layout settings.
type LayoutOptions struct {
	StructuralDebounce      time.Duration
	GeometricDebounce       time.Duration
	RuntimeStateDelay       time.Duration
	SidebarWidth            int
	TerminalHeight          int
	ContainerWidth          int
	ContainerHeight         int
	ContainerResizeDebounce time.Duration
}

// GetLayoutOptions returns layout settings with defaults applied
func GetLayoutOptions() LayoutOptions {
	return loadOrDefault().Layout.Resolve()
}

// Resolve applies defaults to unset fields.
func (s LayoutSettings) Resolve() LayoutOptions {
	return LayoutOptions{
		StructuralDebounce:      ms(s.StructuralDebounceMs, 300),
		GeometricDebounce:       ms(s.GeometricDebounceMs, 1500),
		RuntimeStateDelay:       ms(s.RuntimeStateDelayMs, 16),
		SidebarWidth:            orDefault(s.SidebarWidth, 260),
		TerminalHeight:          orDefault(s.TerminalHeight, 240),
		ContainerWidth:          orDefault(s.ContainerWidth, 1440),
		ContainerHeight:         orDefault(s.ContainerHeight, 900),
		ContainerResizeDebounce: ms(s.ContainerResizeDebounceMs, 100),
	}
}

// TerminalOptions are the resolved terminal settings.
type TerminalOptions struct {
	Shell               string
	ResizeDebounce      time.Duration
	FrameDelay          time.Duration
	MinCols             int
	MinRows             int
	ScrollbackLines     int
	ScrollbackBytes     int
	DetachedBufferBytes int
	ImageDir            string
}

// GetTerminalOptions returns terminal settings with defaults applied
func GetTerminalOptions() TerminalOptions {
	return loadOrDefault().Terminal.Resolve()
}

// Resolve applies defaults to unset fields.
func (s TerminalSettings) Resolve() TerminalOptions {
	opts := TerminalOptions{
		Shell:               s.Shell,
		ResizeDebounce:      ms(s.ResizeDebounceMs, 100),
		FrameDelay:          ms(s.FrameDelayMs, 16),
		MinCols:             orDefault(s.MinCols, 20),
		MinRows:             orDefault(s.MinRows, 5),
		ScrollbackLines:     orDefault(s.ScrollbackLines, 5000),
		ScrollbackBytes:     orDefault(s.ScrollbackKB, 1024) * 1024,
		DetachedBufferBytes: orDefault(s.DetachedBufferKB, 1024) * 1024,
		ImageDir:            s.ImageDir,
	}
	if opts.Shell == "" {
		opts.Shell = os.Getenv("SHELL")
	}
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	if opts.ImageDir == "" {
		if dir, err := GetPanedeckDir(); err == nil {
			opts.ImageDir = filepath.Join(dir, "images")
		}
	}
	return opts
}

// PrefetchOptions are the resolved prefetch settings.
type PrefetchOptions struct {
	Enabled       bool
	IdleInterval  time.Duration
	StaleAfter    time.Duration
	RatePerSecond float64
}

// GetPrefetchOptions returns prefetch settings with defaults applied
func GetPrefetchOptions() PrefetchOptions {
	return loadOrDefault().Prefetch.Resolve()
}

// Resolve applies defaults to unset fields.
func (s PrefetchSettings) Resolve() PrefetchOptions {
	opts := PrefetchOptions{
		Enabled:       true,
		IdleInterval:  time.Duration(orDefault(s.IdleIntervalSecs, 10)) * time.Second,
		StaleAfter:    time.Duration(orDefault(s.StaleAfterSecs, 30)) * time.Second,
		RatePerSecond: s.RatePerSecond,
	}
	if s.Enabled != nil {
		opts.Enabled = *s.Enabled
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 4
	}
	return opts
}

// GetWebSettings returns web settings with defaults applied
func GetWebSettings() WebSettings {
	settings := loadOrDefault().Web
	if settings.ListenAddr == "" {
		settings.ListenAddr = "127.0.0.1:8421"
	}
	return settings
}

// GetLogSettings returns log settings with defaults applied
func GetLogSettings() LogSettings {
	settings := loadOrDefault().Logs
	if settings.Level == "" {
		settings.Level = "info"
	}
	if settings.Format == "" {
		settings.Format = "json"
	}
	settings.MaxSizeMB = orDefault(settings.MaxSizeMB, 10)
	settings.Backups = orDefault(settings.Backups, 5)
	settings.RetentionDays = orDefault(settings.RetentionDays, 10)
	settings.AggregateIntervalSecs = orDefault(settings.AggregateIntervalSecs, 30)
	return settings
}
