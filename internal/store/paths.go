package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the name of the pcosc data directory.
const DirName = ".pcosc"

// DBFile is the run database file name inside the data directory.
const DBFile = "runs.db"

// GlobalDataPath returns the path to the global .pcosc directory.
// On Unix: ~/.pcosc
// On Windows: %USERPROFILE%\.pcosc
func GlobalDataPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DirName), nil
}

// LocalDataPath returns the .pcosc directory for the given project root.
func LocalDataPath(projectRoot string) string {
	return filepath.Join(projectRoot, DirName)
}

// EnsureDataDir creates dir if it doesn't exist.
func EnsureDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}
	return nil
}
