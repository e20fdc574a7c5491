package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/alnah/go-corpus/internal/audio"
	"github.com/alnah/go-corpus/internal/format"
)

// ErrInvalidValue indicates a config value that does not fit its key.
var ErrInvalidValue = errors.New("invalid config value")

// ErrUnknownKey indicates a key that is not a supported setting.
var ErrUnknownKey = errors.New("unknown config key")

// Config keys.
const (
	KeyTargetDir    = "target-dir"
	KeyWorkers      = "workers"
	KeyBuffer       = "buffer"
	KeySDBAudioType = "sdb-audio-type"
	KeyLogLevel     = "log-level"
)

// Environment variable fallbacks.
const (
	EnvTargetDir    = "CORPUS_TARGET_DIR"
	EnvWorkers      = "CORPUS_WORKERS"
	EnvBuffer       = "CORPUS_BUFFER"
	EnvSDBAudioType = "CORPUS_SDB_AUDIO_TYPE"
	EnvLogLevel     = "CORPUS_LOG_LEVEL"
)

// Keys lists all supported keys in display order.
var Keys = []string{KeyTargetDir, KeyWorkers, KeyBuffer, KeySDBAudioType, KeyLogLevel}

var envByKey = map[string]string{
	KeyTargetDir:    EnvTargetDir,
	KeyWorkers:      EnvWorkers,
	KeyBuffer:       EnvBuffer,
	KeySDBAudioType: EnvSDBAudioType,
	KeyLogLevel:     EnvLogLevel,
}

// Config holds export defaults loaded from ~/.config/go-corpus/config.
// Values are kept as written; flags parse them like their own input.
type Config struct {
	TargetDir    string
	Workers      string
	Buffer       string
	SDBAudioType string
	LogLevel     string
}

// Value returns the value of key, or "" for unknown keys.
func (c Config) Value(key string) string {
	switch key {
	case KeyTargetDir:
		return c.TargetDir
	case KeyWorkers:
		return c.Workers
	case KeyBuffer:
		return c.Buffer
	case KeySDBAudioType:
		return c.SDBAudioType
	case KeyLogLevel:
		return c.LogLevel
	}
	return ""
}

func (c *Config) set(key, value string) {
	switch key {
	case KeyTargetDir:
		c.TargetDir = value
	case KeyWorkers:
		c.Workers = value
	case KeyBuffer:
		c.Buffer = value
	case KeySDBAudioType:
		c.SDBAudioType = value
	case KeyLogLevel:
		c.LogLevel = value
	}
}

// EnvVar returns the environment variable backing key.
func EnvVar(key string) (string, bool) {
	v, ok := envByKey[key]
	return v, ok
}

// dir returns the configuration directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/go-corpus.
func dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "go-corpus"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "go-corpus"), nil
}

// path returns the full path to the config file.
func path() (string, error) {
	d, err := dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "config"), nil
}

// Load reads the configuration file and environment variables.
// Precedence: config file values, then environment variable fallbacks.
// Returns an empty Config if the file doesn't exist (not an error).
func Load() (Config, error) {
	var cfg Config

	p, err := path()
	if err != nil {
		return cfg, err
	}

	if data, err := parseFile(p); err == nil {
		for _, key := range Keys {
			cfg.set(key, data[key])
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	for _, key := range Keys {
		if cfg.Value(key) == "" {
			cfg.set(key, os.Getenv(envByKey[key]))
		}
	}

	return cfg, nil
}

// parseFile reads a key=value config file.
// Format: one key=value per line, # comments, empty lines ignored.
func parseFile(p string) (map[string]string, error) {
	f, err := os.Open(p) // #nosec G304 -- config path is constructed from home dir
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	data := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid syntax at line %d: %q", lineNum, line)
		}
		data[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return data, nil
}

// Save writes a single key=value to the config file.
// Creates the config directory and file if they don't exist.
// Preserves existing key=value pairs but discards comments.
func Save(key, value string) error {
	if key == "" || strings.ContainsAny(key, "=\n\r") {
		return fmt.Errorf("%w %q", ErrUnknownKey, key)
	}
	if strings.ContainsAny(value, "\n\r") {
		return fmt.Errorf("%w: value of %s contains a line break", ErrInvalidValue, key)
	}

	p, err := path()
	if err != nil {
		return err
	}

	d := filepath.Dir(p)
	if err := os.MkdirAll(d, 0750); err != nil { // #nosec G301 -- user config dir
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	existing, _ := parseFile(p)
	if existing == nil {
		existing = make(map[string]string)
	}
	existing[key] = value

	return writeFile(p, existing)
}

// writeFile writes the config map to a file, keys sorted.
func writeFile(p string, data map[string]string) error {
	// #nosec G302 G304 -- config file with standard permissions, path from home dir
	f, err := os.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("cannot write config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		if _, err := fmt.Fprintf(f, "%s=%s\n", key, data[key]); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	return nil
}

// Get reads a single value from the config file.
// Returns empty string if the key doesn't exist.
func Get(key string) (string, error) {
	p, err := path()
	if err != nil {
		return "", err
	}

	data, err := parseFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	return data[key], nil
}

// List returns all config values as a map.
func List() (map[string]string, error) {
	p, err := path()
	if err != nil {
		return nil, err
	}

	data, err := parseFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}

	return data, nil
}

// Normalize validates value for key and returns the form to store.
// Paths get ~ expanded.
func Normalize(key, value string) (string, error) {
	switch key {
	case KeyTargetDir:
		expanded := ExpandPath(value)
		if err := ValidTargetDir(expanded); err != nil {
			return "", err
		}
		return expanded, nil
	case KeyWorkers:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return "", fmt.Errorf("%w: %s must be a positive integer, got %q", ErrInvalidValue, key, value)
		}
		return strconv.Itoa(n), nil
	case KeyBuffer:
		if _, err := format.ParseSize(value); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
		}
		return value, nil
	case KeySDBAudioType:
		if _, err := audio.ParseType(value); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
		}
		return value, nil
	case KeyLogLevel:
		switch strings.ToLower(value) {
		case "debug", "info", "warn", "warning", "error":
			return strings.ToLower(value), nil
		}
		return "", fmt.Errorf("%w: %s must be debug, info, warn or error, got %q", ErrInvalidValue, key, value)
	}
	return "", fmt.Errorf("%w %q (valid keys: %v)", ErrUnknownKey, key, Keys)
}

// ValidTargetDir checks that d is an existing directory.
func ValidTargetDir(d string) error {
	if d == "" {
		return fmt.Errorf("%w: target directory cannot be empty", ErrInvalidValue)
	}

	info, err := os.Stat(d)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: target directory %q does not exist", ErrInvalidValue, d)
		}
		return fmt.Errorf("cannot access directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: path is not a directory: %s", ErrInvalidValue, d)
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
	}
	return p
}

// Dir returns the configuration directory path (exported for testing).
func Dir() (string, error) {
	return dir()
}

// ParseFile reads a key=value config file (exported for testing).
func ParseFile(p string) (map[string]string, error) {
	return parseFile(p)
}
