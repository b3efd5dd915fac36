package config

import (
	"os"
	"path/filepath"
)

// ConfigExts lists the config file extensions viper is asked to read
var ConfigExts = []string{"yml", "yaml", "json", "toml"}

// FindLocalConfig finds local config file by walking up directories
func FindLocalConfig(dir string) string {
	for {
		for _, ext := range ConfigExts {
			path := filepath.Join(dir, ".gobuild."+ext)

			if _, err := os.Stat(path); err == nil {
				return path
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}
