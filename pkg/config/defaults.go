package config

const (
	defaultAPIListen = ":8080"

	defaultStoreProvider = "inmemory"
	defaultStoreTarget   = "http://localhost:8765"

	defaultEventsTopic = "recollect.audit"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		MemoryStore: MemoryStoreConfig{
			Provider: defaultStoreProvider,
			Target:   defaultStoreTarget,
		},
		Events: EventsConfig{
			Topic: defaultEventsTopic,
		},
	}
}
