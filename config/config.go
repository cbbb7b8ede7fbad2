// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config reads and writes the chain client's configuration file.
// The format is plain "key = value" lines; '#' starts a comment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds the chain client's settings.
type Config struct {
	// DataDir is the root directory for the UTXO cache and logs.
	DataDir string

	// Network selects the chain: "mainnet", "testnet" or "regtest".
	Network string

	// Servers is the ordered list of chain server URLs. When empty,
	// Seed is used for DNS discovery.
	Servers []string

	// Seed is a DNS seed name publishing chain servers as SRV records.
	Seed string

	// FeeRate in satoshis per byte used by coin selection.
	FeeRate uint64

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string

	// LogFile is the log destination, empty for stderr.
	LogFile string

	// ConnectTimeoutSec bounds one connection attempt before failover.
	ConnectTimeoutSec int

	// PauseSec is the cool-down after the whole server list failed.
	PauseSec int
}

// DefaultDataDir returns the default data directory under the user's home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".chainclient")
}

// ConfigPath returns the config file path inside a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:           DefaultDataDir(),
		Network:           "mainnet",
		FeeRate:           1,
		LogLevel:          "info",
		LogFile:           "",
		ConnectTimeoutSec: 5,
		PauseSec:          60,
	}
}

// LoadConfig reads a config file. Missing keys keep their defaults; unknown
// keys are ignored so newer files load under older binaries.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, err := parseKeyValue(line)
		if err != nil {
			return cfg, fmt.Errorf("%w: line %d: %q", ErrInvalidConfigLine, i+1, line)
		}
		if err := applyKey(&cfg, key, value); err != nil {
			return cfg, fmt.Errorf("config: line %d: %w", i+1, err)
		}
	}
	return cfg, nil
}

// parseKeyValue splits a "key = value" line on the first '='.
func parseKeyValue(line string) (string, string, error) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", ErrInvalidConfigLine
	}
	key := strings.ToLower(strings.TrimSpace(line[:idx]))
	value := strings.TrimSpace(line[idx+1:])
	if key == "" {
		return "", "", ErrInvalidConfigLine
	}
	return key, value, nil
}

// applyKey assigns one parsed key to the config. Unknown keys are ignored.
func applyKey(cfg *Config, key, value string) error {
	switch key {
	case "datadir":
		cfg.DataDir = value
	case "network":
		cfg.Network = value
	case "server":
		// Repeatable; each line appends one server.
		if value != "" {
			cfg.Servers = append(cfg.Servers, value)
		}
	case "seed":
		cfg.Seed = value
	case "feerate":
		rate, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: feerate %q", ErrInvalidFeeRate, value)
		}
		cfg.FeeRate = rate
	case "loglevel":
		cfg.LogLevel = value
	case "logfile":
		cfg.LogFile = value
	case "connect_timeout":
		secs, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: connect_timeout %q", ErrInvalidDuration, value)
		}
		cfg.ConnectTimeoutSec = secs
	case "pause":
		secs, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: pause %q", ErrInvalidDuration, value)
		}
		cfg.PauseSec = secs
	}
	return nil
}

// SaveConfig writes the config file, creating parent directories as needed.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# Chain Client Configuration\n\n")
	fmt.Fprintf(&b, "datadir = %s\n", cfg.DataDir)
	fmt.Fprintf(&b, "network = %s\n", cfg.Network)
	for _, srv := range cfg.Servers {
		fmt.Fprintf(&b, "server = %s\n", srv)
	}
	if cfg.Seed != "" {
		fmt.Fprintf(&b, "seed = %s\n", cfg.Seed)
	}
	fmt.Fprintf(&b, "feerate = %d\n", cfg.FeeRate)
	fmt.Fprintf(&b, "loglevel = %s\n", cfg.LogLevel)
	fmt.Fprintf(&b, "logfile = %s\n", cfg.LogFile)
	fmt.Fprintf(&b, "connect_timeout = %d\n", cfg.ConnectTimeoutSec)
	fmt.Fprintf(&b, "pause = %d\n", cfg.PauseSec)

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
