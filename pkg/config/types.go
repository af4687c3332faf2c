package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent recollect configuration stored as
// config.toml in the .recollect/ directory. The TOML layout uses sections
// for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	API         APIConfig         `toml:"api"`
	MemoryStore MemoryStoreConfig `toml:"memory_store"`
	Blobs       BlobsConfig       `toml:"blobs"`
	Events      EventsConfig      `toml:"events"`
}

// StorageConfig holds ledger storage settings.
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// MemoryStoreConfig holds vector memory subsystem settings.
type MemoryStoreConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	APIKey   string `toml:"api_key,omitempty"`
}

// BlobsConfig holds blob store settings for externalized payloads.
type BlobsConfig struct {
	BasePath string `toml:"base_path,omitempty"`
}

// EventsConfig holds audit eventstream settings.
type EventsConfig struct {
	Enabled bool     `toml:"enabled,omitempty"`
	Brokers []string `toml:"brokers,omitempty"`
	Topic   string   `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"memory_store.provider": {
		get: func(c *Config) string { return c.MemoryStore.Provider },
		set: func(c *Config, v string) error { c.MemoryStore.Provider = v; return nil },
	},
	"memory_store.target": {
		get: func(c *Config) string { return c.MemoryStore.Target },
		set: func(c *Config, v string) error { c.MemoryStore.Target = v; return nil },
	},
	"memory_store.api_key": {
		get: func(c *Config) string { return c.MemoryStore.APIKey },
		set: func(c *Config, v string) error { c.MemoryStore.APIKey = v; return nil },
	},
	"blobs.base_path": {
		get: func(c *Config) string { return c.Blobs.BasePath },
		set: func(c *Config, v string) error { c.Blobs.BasePath = v; return nil },
	},
	"events.enabled": {
		get: func(c *Config) string { return strconv.FormatBool(c.Events.Enabled) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for events.enabled: %w", err)
			}
			c.Events.Enabled = b
			return nil
		},
	},
	"events.topic": {
		get: func(c *Config) string { return c.Events.Topic },
		set: func(c *Config, v string) error { c.Events.Topic = v; return nil },
	},
}
