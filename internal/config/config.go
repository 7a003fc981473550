package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"devsync/internal/search"
	"devsync/internal/tree"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB
	maxRenameRetry           = 10
	// Windows file lock releases (antivirus/indexing) typically settle quickly.
	// Use a short linear backoff: baseDelay * (1..maxRenameRetry).
	renameRetryBaseDelay = 10 * time.Millisecond
	// maxValidPort is the highest TCP port number (2^16 - 1).
	maxValidPort = 65535

	defaultListenAddr = "127.0.0.1:3001"
	defaultOrigin     = "http://localhost:5173"
	defaultDebounceMS = 75
	maxDebounceMS     = 10_000
)

// Environment variables that override the file.
const (
	EnvWorkspaceDir   = "WORKSPACE_DIR"
	EnvPort           = "PORT"
	EnvFrontendOrigin = "FRONTEND_ORIGIN"
	EnvLogLevel       = "DEVSYNC_LOG_LEVEL"
)

// Config is the devsyncd runtime configuration.
type Config struct {
	// WorkspaceDir is the directory served by the engine. Empty means the
	// current working directory.
	WorkspaceDir   string        `yaml:"workspace_dir" json:"workspace_dir"`
	ListenAddr     string        `yaml:"listen_addr" json:"listen_addr"`
	AllowedOrigins []string      `yaml:"allowed_origins" json:"allowed_origins"`
	Log            LogConfig     `yaml:"log" json:"log"`
	Watch          WatchConfig   `yaml:"watch" json:"watch"`
	Search         SearchConfig  `yaml:"search" json:"search"`
	Metrics        MetricsConfig `yaml:"metrics" json:"metrics"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug|info|warn|error
	Format string `yaml:"format" json:"format"` // text|json
}

// WatchConfig controls the filesystem watcher.
type WatchConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	DebounceMS   int      `yaml:"debounce_ms" json:"debounce_ms"`
	ExcludedDirs []string `yaml:"excluded_dirs" json:"excluded_dirs"`
}

// SearchConfig controls full-text search.
type SearchConfig struct {
	MaxResults  int    `yaml:"max_results" json:"max_results"`
	RipgrepPath string `yaml:"ripgrep_path" json:"ripgrep_path"`
	Mode        string `yaml:"mode" json:"mode"` // auto|ripgrep|fallback
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Debounce returns the configured debounce window.
func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMS) * time.Millisecond
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     defaultListenAddr,
		AllowedOrigins: []string{defaultOrigin},
		Log:            LogConfig{Level: "info", Format: "text"},
		Watch: WatchConfig{
			Enabled:      true,
			DebounceMS:   defaultDebounceMS,
			ExcludedDirs: append([]string(nil), tree.DefaultExcludedDirs...),
		},
		Search: SearchConfig{
			MaxResults:  search.DefaultMaxResults,
			RipgrepPath: search.DefaultRipgrep,
			Mode:        string(search.ModeAuto),
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// DefaultPath returns the per-user config file location. It falls back to
// the current directory when no user config directory is available.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		slog.Warn("[WARN-CONFIG] user config dir unavailable, using current directory", "error", err)
		return "devsync.yaml"
	}
	return filepath.Join(dir, "devsync", "config.yaml")
}

// Load reads the config file at path, applies environment overrides and
// normalizes the result. A missing or empty file yields the defaults.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
			return DefaultConfig(), fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	applyDefaultsAndValidate(&cfg)
	return cfg, nil
}

// ApplyEnv overlays the environment variables onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvWorkspaceDir)); v != "" {
		cfg.WorkspaceDir = v
	}
	if v := strings.TrimSpace(getenv(EnvPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 0 || port > maxValidPort {
			return fmt.Errorf("%s=%q is not a valid port", EnvPort, v)
		}
		cfg.ListenAddr = withPort(cfg.ListenAddr, port)
	}
	if v := strings.TrimSpace(getenv(EnvFrontendOrigin)); v != "" {
		cfg.AllowedOrigins = []string{v}
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// withPort replaces the port of addr, keeping its host.
func withPort(addr string, port int) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host, _, _ = net.SplitHostPort(defaultListenAddr)
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Save normalizes cfg and writes it to path atomically.
func Save(path string, cfg Config) (Config, error) {
	if path == "" {
		return cfg, errors.New("config path required")
	}
	applyDefaultsAndValidate(&cfg)

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("save config: marshal: %w", err)
	}
	if err := atomicWrite(path, raw); err != nil {
		return cfg, err
	}
	slog.Debug("[DEBUG-CONFIG] config saved", "path", path)
	return cfg, nil
}

func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save config: mkdir: %w", err)
	}

	// Temp file + rename in the same directory keeps the rename on one
	// filesystem and prevents partial writes on crash.
	tmpFile, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("save config: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[WARN-CONFIG] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[WARN-CONFIG] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("save config: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("save config: write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("save config: sync: %w", err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("save config: close: %w", err)
	}

	if err = renameFileWithRetry(tmpPath, path); err != nil {
		return fmt.Errorf("save config: rename: %w", err)
	}
	return nil
}

// applyDefaultsAndValidate fills blanks and replaces out-of-range values with
// defaults. Problems are logged, never fatal; the workspace directory is
// checked by the engine at startup.
func applyDefaultsAndValidate(cfg *Config) {
	defaults := DefaultConfig()
	if isZeroConfig(*cfg) {
		*cfg = defaults
		return
	}

	cfg.WorkspaceDir = strings.TrimSpace(cfg.WorkspaceDir)
	validateListenAddr(cfg, defaults)
	cfg.AllowedOrigins = normalizeOrigins(cfg.AllowedOrigins)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = defaults.AllowedOrigins
	}
	validateLog(&cfg.Log, defaults.Log)
	validateWatch(&cfg.Watch, defaults.Watch)
	validateSearch(&cfg.Search, defaults.Search)
}

func validateListenAddr(cfg *Config, defaults Config) {
	addr := strings.TrimSpace(cfg.ListenAddr)
	if addr == "" {
		cfg.ListenAddr = defaults.ListenAddr
		return
	}
	_, portStr, err := net.SplitHostPort(addr)
	port, convErr := strconv.Atoi(portStr)
	if err != nil || convErr != nil || port < 0 || port > maxValidPort {
		slog.Warn("[WARN-CONFIG] listen_addr is not host:port, falling back to default",
			"configured", cfg.ListenAddr, "default", defaults.ListenAddr)
		cfg.ListenAddr = defaults.ListenAddr
		return
	}
	cfg.ListenAddr = addr
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	seen := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" {
			continue
		}
		if _, dup := seen[origin]; dup {
			continue
		}
		seen[origin] = struct{}{}
		out = append(out, origin)
	}
	return out
}

func validateLog(l *LogConfig, defaults LogConfig) {
	l.Level = strings.ToLower(strings.TrimSpace(l.Level))
	switch l.Level {
	case "debug", "info", "warn", "error":
	case "":
		l.Level = defaults.Level
	default:
		slog.Warn("[WARN-CONFIG] unknown log.level, falling back to default", "configured", l.Level, "default", defaults.Level)
		l.Level = defaults.Level
	}

	l.Format = strings.ToLower(strings.TrimSpace(l.Format))
	switch l.Format {
	case "text", "json":
	case "":
		l.Format = defaults.Format
	default:
		slog.Warn("[WARN-CONFIG] unknown log.format, falling back to default", "configured", l.Format, "default", defaults.Format)
		l.Format = defaults.Format
	}
}

func validateWatch(w *WatchConfig, defaults WatchConfig) {
	if w.DebounceMS <= 0 || w.DebounceMS > maxDebounceMS {
		if w.DebounceMS != 0 {
			slog.Warn("[WARN-CONFIG] watch.debounce_ms out of range, falling back to default",
				"configured", w.DebounceMS, "max", maxDebounceMS, "default", defaults.DebounceMS)
		}
		w.DebounceMS = defaults.DebounceMS
	}
	if w.ExcludedDirs == nil {
		w.ExcludedDirs = append([]string(nil), defaults.ExcludedDirs...)
		return
	}
	dirs := make([]string, 0, len(w.ExcludedDirs))
	for _, d := range w.ExcludedDirs {
		d = strings.TrimSpace(d)
		if d == "" || strings.ContainsAny(d, `/\`) {
			slog.Warn("[WARN-CONFIG] ignoring watch.excluded_dirs entry, must be a plain directory name", "entry", d)
			continue
		}
		dirs = append(dirs, d)
	}
	w.ExcludedDirs = dirs
}

func validateSearch(s *SearchConfig, defaults SearchConfig) {
	switch {
	case s.MaxResults <= 0:
		if s.MaxResults != 0 {
			slog.Warn("[WARN-CONFIG] search.max_results must be positive, falling back to default",
				"configured", s.MaxResults, "default", defaults.MaxResults)
		}
		s.MaxResults = defaults.MaxResults
	case s.MaxResults > search.MaxResultsLimit:
		slog.Warn("[WARN-CONFIG] search.max_results above limit, capping",
			"configured", s.MaxResults, "max", search.MaxResultsLimit)
		s.MaxResults = search.MaxResultsLimit
	}

	s.RipgrepPath = strings.TrimSpace(s.RipgrepPath)
	if s.RipgrepPath == "" {
		s.RipgrepPath = defaults.RipgrepPath
	}

	mode, err := search.ParseMode(s.Mode)
	if err != nil {
		slog.Warn("[WARN-CONFIG] unknown search.mode, falling back to default", "configured", s.Mode, "default", defaults.Mode)
		mode = search.Mode(defaults.Mode)
	}
	s.Mode = string(mode)
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	limited := io.LimitReader(file, maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

func isZeroConfig(cfg Config) bool {
	// reflect.DeepEqual guards against field-addition drift that manual checks miss.
	return reflect.DeepEqual(cfg, Config{})
}

func renameFileWithRetry(sourcePath string, targetPath string) error {
	var lastErr error
	for attempt := range maxRenameRetry {
		err := os.Rename(sourcePath, targetPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if runtime.GOOS != "windows" {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryBaseDelay)
	}
	return lastErr
}
