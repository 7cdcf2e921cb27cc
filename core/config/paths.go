package config

import (
	"os"
	"path/filepath"
)

// projectConfigName is the committed project-level config file.
const projectConfigName = "kitbash.yaml"

// ProjectPaths locates the project-local configuration files.
type ProjectPaths struct {
	Config string // kitbash.yaml at the project root, committed
	Local  string // .kitbash/local/config.yaml, gitignored overrides
}

// ResolveProjectPaths returns the project-local config locations under
// root.
func ResolveProjectPaths(root string) ProjectPaths {
	return ProjectPaths{
		Config: filepath.Join(root, projectConfigName),
		Local:  filepath.Join(root, projectStateDir, "local", "config.yaml"),
	}
}

// UserConfigPath returns the per-user config file location, honoring
// XDG_CONFIG_HOME over the platform default.
func UserConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "kitbash", "config.yaml")
	}
	return filepath.Join(platformConfigDir(), "config.yaml")
}
