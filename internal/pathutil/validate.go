// Package pathutil confines file paths requested over MCP to the pcosc
// output directories.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OutputDirName is the directory under the data directory where MCP tools
// may write traces and checkpoints.
const OutputDirName = "output"

// RedactPath reduces a full path to .../<parent>/<basename> for safe error messages.
// For example, "/home/user/.pcosc/config.yaml" becomes ".../.pcosc/config.yaml".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return filepath.Base(cleaned)
	}
	return ".../" + parent + "/" + filepath.Base(cleaned)
}

// ValidatePath checks that path, after symlink resolution, lies inside one of
// the allowed directories. The file and some of its parents need not exist.
func ValidatePath(path string, allowedDirs []string) error {
	switch {
	case path == "":
		return fmt.Errorf("path validation failed: path is empty")
	case len(allowedDirs) == 0:
		return fmt.Errorf("path validation failed: no allowed directories configured")
	case strings.ContainsRune(path, '\x00'):
		return fmt.Errorf("path validation failed: path contains null byte")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("path validation failed: cannot resolve absolute path: %w", err)
	}
	resolved, err := resolve(abs)
	if err != nil {
		return fmt.Errorf("path validation failed: %w", err)
	}

	for _, dir := range allowedDirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		resolvedDir, err := resolve(absDir)
		if err != nil {
			continue
		}
		if within(resolved, resolvedDir) {
			return nil
		}
	}
	return fmt.Errorf("path validation failed: %q is outside allowed directories", RedactPath(abs))
}

// Resolve turns a name into a validated path. Relative names are placed in
// the first allowed directory.
func Resolve(name string, allowedDirs []string) (string, error) {
	if name != "" && !filepath.IsAbs(name) && len(allowedDirs) > 0 {
		name = filepath.Join(allowedDirs[0], name)
	}
	if err := ValidatePath(name, allowedDirs); err != nil {
		return "", err
	}
	return filepath.Clean(name), nil
}

// resolve evaluates symlinks on the deepest existing ancestor of p and
// re-appends the missing tail.
func resolve(p string) (string, error) {
	var tail []string
	for {
		r, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(append([]string{r}, tail...)...), nil
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("cannot resolve path: %s", RedactPath(p))
		}
		tail = append([]string{filepath.Base(p)}, tail...)
		p = parent
	}
}

// within reports whether p is base or below it.
func within(p, base string) bool {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}

// DefaultOutputDirs returns the directories MCP tools may write to:
// ~/.pcosc/output/ and, when projectRoot is set, <projectRoot>/.pcosc/output/.
func DefaultOutputDirs(projectRoot string) ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	dirs := []string{filepath.Join(homeDir, ".pcosc", OutputDirName)}
	if projectRoot != "" {
		dirs = append(dirs, filepath.Join(projectRoot, ".pcosc", OutputDirName))
	}
	return dirs, nil
}
