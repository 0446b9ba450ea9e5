package config

// loader.go - configuration loading from files and environment variables.
//
// Precedence order for Options (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	lferr "localforward/internal/errors"
)

// ── Config files ─────────────────────────────────────────────────────

// DefaultConfigPath returns config.json in the executable's directory.
func DefaultConfigPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exe), DefaultConfigName), nil
}

// LoadFile reads and decodes one config file.  Files ending in .yaml
// or .yml are decoded as YAML, everything else as JSON.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &lferr.ConfigError{
			Path:    path,
			Message: "cannot read config file",
			Hint:    "pass the config path as an argument or place config.json next to the executable",
			Err:     err,
		}
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, &lferr.ConfigError{Path: path, Message: "malformed config", Err: err}
	}
	return &f, nil
}

// LoadFiles decodes every path in order and concatenates their host
// lists, then validates the result.  An empty paths slice loads the
// default path.
func LoadFiles(paths []string) ([]HostSpec, error) {
	if len(paths) == 0 {
		def, err := DefaultConfigPath()
		if err != nil {
			return nil, &lferr.ConfigError{Message: "cannot locate default config", Err: err}
		}
		paths = []string{def}
	}

	var hosts []HostSpec
	for _, p := range paths {
		f, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		// Validate per file so the error names the file that is wrong.
		if err := Validate(f.ProxyConfig); err != nil {
			var ce *lferr.ConfigError
			if lferr.As(err, &ce) {
				ce.Path = p
			}
			return nil, err
		}
		hosts = append(hosts, f.ProxyConfig...)
	}
	return hosts, nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the LOCALFORWARD_ prefix.  Boolean
// values accept "1", "true", "yes" (case-insensitive).

// LoadFromEnv overlays environment variables onto opts.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(opts *Options) {
	if v := os.Getenv(EnvPrefix + "CONFIG"); v != "" {
		opts.ConfigPaths = filepath.SplitList(v)
	}
	if v := envInt(EnvPrefix + "VERBOSE"); v > 0 {
		opts.Verbose = v
	}
	if envBool(EnvPrefix + "STRICT_HOSTKEY") {
		opts.StrictHostKey = true
	}
	if v := os.Getenv(EnvPrefix + "KNOWN_HOSTS"); v != "" {
		opts.KnownHostsPath = v
	}
	if v := envInt(EnvPrefix + "TIMEOUT"); v > 0 {
		opts.ConnTimeout = secondsDuration(v)
	}
	if v := os.Getenv(EnvPrefix + "PORT_RANGE"); v != "" {
		if pr, err := ParsePortRange(v); err == nil {
			opts.PortRange = pr
		}
	}
	if envBool(EnvPrefix+"NO_COLOR") || os.Getenv("NO_COLOR") != "" {
		opts.NoColor = true
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
