//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

func platformConfigDir() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "kitbash")
}
