package plugin

import "time"

const (
	// APIVersion is the plugin ABI version; plugins are not required to
	// declare it, but a future breaking change to the host ABI bumps this.
	APIVersion = 1

	// DefaultMaxExecutionTime is the per-invocation wall-clock budget
	// applied when a plugin's own config doesn't override it.
	DefaultMaxExecutionTime = 5 * time.Second
	// DefaultMaxMemoryBytes is advisory; wazero allocates linear memory
	// per the module's own declared limits, this is the soft target.
	DefaultMaxMemoryBytes = 10 * 1024 * 1024

	// MaxMemoryMB is the hard per-plugin memory ceiling.
	MaxMemoryMB = 256
	// MaxCPUPercent is the hard per-plugin CPU share ceiling.
	MaxCPUPercent = 50
	// HardTimeout is the absolute per-invocation wall-clock ceiling; no
	// plugin config may request longer than this.
	HardTimeout = 30 * time.Second
	// MaxFileSize is the hard ceiling on a plugin's .wasm file size.
	MaxFileSize = 100 * 1024 * 1024
)

// Permissions control what a plugin is allowed to do. They are currently
// advisory metadata surfaced to operators; the sandbox itself denies
// network and filesystem access unconditionally regardless of these
// flags, since the host ABI never exposes either capability to a guest.
type Permissions struct {
	CanMakeNetworkRequests bool
	CanAccessFilesystem    bool
	CanModifyRequests      bool
	CanModifyResponses     bool
	CanAccessBodies        bool
}

// DefaultPermissions matches the reference default: modification and body
// access allowed, network and filesystem denied.
func DefaultPermissions() Permissions {
	return Permissions{
		CanModifyRequests:  true,
		CanModifyResponses: true,
		CanAccessBodies:    true,
	}
}

// Config describes one plugin to load.
type Config struct {
	Name    string
	Path    string
	Enabled bool

	Permissions      Permissions
	MaxExecutionTime time.Duration
	MaxMemoryBytes   int

	// Priority orders execution within a hook when lower values should
	// run first. The current dispatcher sorts by Name rather than
	// Priority, matching the reference manager's own "could use priority"
	// shortcut; Priority is retained on the config for forward use.
	Priority uint32
}

// DefaultConfig returns a Config for name/path with every default applied.
func DefaultConfig(name, path string) Config {
	return Config{
		Name:             name,
		Path:             path,
		Enabled:          true,
		Permissions:      DefaultPermissions(),
		MaxExecutionTime: DefaultMaxExecutionTime,
		MaxMemoryBytes:   DefaultMaxMemoryBytes,
		Priority:         100,
	}
}

// SystemConfig is the plugin subsystem's global configuration.
type SystemConfig struct {
	PluginDir string
	Enabled   bool
	Plugins   []Config
}

// DefaultSystemConfig returns a SystemConfig pointed at "plugins", enabled,
// with no plugins configured.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{PluginDir: "plugins", Enabled: true}
}
