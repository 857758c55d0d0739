package machine

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds harness parameters for the demo scenarios.
type Config struct {
	// StackBase is the lowest address of the hosted thread's stack.
	StackBase uint32 `json:"stack_base"`

	// StackSize is the hosted stack size in bytes.
	StackSize uint32 `json:"stack_size"`

	// EnableCache puts the stack cache model in front of memory.
	EnableCache bool `json:"enable_cache"`

	// Cache configures the stack cache when EnableCache is set.
	Cache CacheConfig `json:"cache"`
}

// DefaultConfig returns the default harness configuration.
func DefaultConfig() Config {
	return Config{
		StackBase:   0x8000_0000,
		StackSize:   64 * 1024,
		EnableCache: true,
		Cache:       DefaultCacheConfig(),
	}
}

// LoadConfig reads a JSON configuration file, overlaying it on the
// defaults so partial files work.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("reading config: %w", err)
	}
	if err := json.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return config, nil
}
