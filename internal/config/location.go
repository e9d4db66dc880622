package config

import (
	"os"
	"path/filepath"
)

// PathEnv overrides the configuration file location.
const PathEnv = "ACTIONFLOW_CONFIG"

// Path returns the configuration file path: $ACTIONFLOW_CONFIG when set,
// otherwise ~/.actionflow/config.
func Path() (string, error) {
	if path := os.Getenv(PathEnv); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".actionflow", "config"), nil
}
