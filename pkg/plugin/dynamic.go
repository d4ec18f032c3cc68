//go:build plugindyn && linux

package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"strings"
)

// LoadDynamicPlugins opens every .so in dir and calls its exported
// RegisterPlugins function, so out-of-tree platforms, providers and
// transports can register themselves. An empty dir falls back to
// CALLBRIDGE_PLUGIN_PATH; a missing directory loads nothing.
func LoadDynamicPlugins(dir string) (int, error) {
	if dir == "" {
		dir = os.Getenv(PluginPathEnv)
	}
	if dir == "" {
		return 0, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	soFiles, err := filepath.Glob(filepath.Join(dir, "*.so"))
	if err != nil {
		return 0, fmt.Errorf("failed to search for plugin files in %s: %w", dir, err)
	}

	for i, soFile := range soFiles {
		if err := loadPlugin(soFile); err != nil {
			return i, fmt.Errorf("failed to load plugin %s: %w", soFile, err)
		}
	}
	if len(soFiles) > 0 {
		slog.Info("Loaded dynamic plugins",
			slog.Int("count", len(soFiles)),
			slog.String("directory", dir))
	}
	return len(soFiles), nil
}

func loadPlugin(soFile string) error {
	p, err := plugin.Open(soFile)
	if err != nil {
		return fmt.Errorf("failed to open plugin file: %w", err)
	}

	sym, err := p.Lookup("RegisterPlugins")
	if err != nil {
		return fmt.Errorf("plugin does not export RegisterPlugins: %w", err)
	}
	register, ok := sym.(func() error)
	if !ok {
		return fmt.Errorf("RegisterPlugins has signature %T, want func() error", sym)
	}
	if err := register(); err != nil {
		return fmt.Errorf("plugin registration failed: %w", err)
	}

	slog.Info("Loaded plugin",
		slog.String("name", strings.TrimSuffix(filepath.Base(soFile), ".so")),
		slog.String("file", soFile))
	return nil
}
