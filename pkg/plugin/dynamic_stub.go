//go:build !plugindyn || !linux

package plugin

import (
	"fmt"
	"os"
)

// LoadDynamicPlugins is unavailable in this build. It is a no-op when no
// plugin directory is configured.
func LoadDynamicPlugins(dir string) (int, error) {
	if dir == "" && os.Getenv(PluginPathEnv) == "" {
		return 0, nil
	}
	return 0, fmt.Errorf("dynamic plugin loading needs a linux build with -tags=plugindyn")
}
