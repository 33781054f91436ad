package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGlobalDataPath(t *testing.T) {
	got, err := GlobalDataPath()
	if err != nil {
		t.Fatalf("GlobalDataPath() error = %v", err)
	}
	if !strings.HasSuffix(got, DirName) {
		t.Errorf("GlobalDataPath() = %v, should end with %s", got, DirName)
	}
	if !filepath.IsAbs(got) {
		t.Errorf("GlobalDataPath() = %v, should be absolute", got)
	}
	homeDir, _ := os.UserHomeDir()
	if !strings.HasPrefix(got, homeDir) {
		t.Errorf("GlobalDataPath() = %v, should start with %v", got, homeDir)
	}
}

func TestLocalDataPath(t *testing.T) {
	tests := []struct {
		name        string
		projectRoot string
		want        string
	}{
		{"unix path", "/home/user/project", filepath.Join("/home/user/project", ".pcosc")},
		{"relative path", ".", ".pcosc"},
		{"empty path", "", ".pcosc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LocalDataPath(tt.projectRoot); got != tt.want {
				t.Errorf("LocalDataPath(%q) = %v, want %v", tt.projectRoot, got, tt.want)
			}
		})
	}
}

func TestEnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", DirName)
	if err := EnsureDataDir(dir); err != nil {
		t.Fatalf("EnsureDataDir() error = %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}
	// Idempotent.
	if err := EnsureDataDir(dir); err != nil {
		t.Errorf("second EnsureDataDir() error = %v", err)
	}
}
