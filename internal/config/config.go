// Package config loads repository-level configuration with viper, following
// the teacher's precedence-search pattern: project directory, user config
// directory, then home directory, each overridable by COREPO_-prefixed
// environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved repository configuration (spec §6 "external
// interfaces" plus the ambient store/cache knobs SPEC_FULL.md adds).
type Config struct {
	// StorePath is the SQLite file backing the persistent store. Empty
	// means an in-memory store (tests only).
	StorePath string

	// PreregisteredNamespaces maps prefix -> URI, seeded into the namespace
	// registry at repository construction.
	PreregisteredNamespaces map[string]string

	// EffectiveTypeCacheLimit is loaded from configuration but nothing reads
	// it: the weighted effective-type cache has no size bound and evicts
	// entries only by member type name (evictContaining), never by size.
	EffectiveTypeCacheLimit int

	// BlobSpillThresholdBytes is the BINARY value size above which a value
	// is stored in the blob substore instead of inline (spec §3 "Binary").
	BlobSpillThresholdBytes int64

	// LockTimeout is loaded from configuration but nothing reads it: the
	// store lock that sqlitestore.Open takes is bounded only by Open's context.
	LockTimeout time.Duration

	LogPath string
}

const envPrefix = "COREPO"

// Load resolves configuration the way the teacher's Initialize does:
// explicit config-file search across three locations, then environment
// overrides, then package defaults.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			path := filepath.Join(dir, ".coral", "repository.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
				break
			}
		}
	}
	if !configFileSet {
		if dir, err := os.UserConfigDir(); err == nil {
			path := filepath.Join(dir, "coral", "repository.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}
	if !configFileSet {
		if dir, err := os.UserHomeDir(); err == nil {
			path := filepath.Join(dir, ".coral", "repository.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("store-path", "")
	v.SetDefault("effective-type-cache-limit", 0)
	v.SetDefault("blob-spill-threshold-bytes", 4096)
	v.SetDefault("lock-timeout", "5s")
	v.SetDefault("log-path", "")
	v.SetDefault("namespaces", map[string]string{})

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	lockTimeout, err := time.ParseDuration(v.GetString("lock-timeout"))
	if err != nil {
		lockTimeout = 5 * time.Second
	}

	return Config{
		StorePath:               v.GetString("store-path"),
		PreregisteredNamespaces: v.GetStringMapString("namespaces"),
		EffectiveTypeCacheLimit: v.GetInt("effective-type-cache-limit"),
		BlobSpillThresholdBytes: v.GetInt64("blob-spill-threshold-bytes"),
		LockTimeout:             lockTimeout,
		LogPath:                 v.GetString("log-path"),
	}, nil
}
