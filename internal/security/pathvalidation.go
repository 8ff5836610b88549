// Package security validates the file names and paths that reach the
// filesystem from configuration or HTTP requests.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrUnsafePath is returned for names and paths that would leave their
// directory.
var ErrUnsafePath = errors.New("unsafe path")

// ValidateFileName accepts a bare file name: no directory separators, no
// "." or "..", and no control characters.
func ValidateFileName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty file name", ErrUnsafePath)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrUnsafePath, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrUnsafePath, name)
	case strings.IndexFunc(name, unicode.IsControl) >= 0:
		return fmt.Errorf("%w: %q contains a control character", ErrUnsafePath, name)
	}
	return nil
}

// ValidatePathWithinDirectory checks that filePath resolves inside dir once
// symlinks are followed. A path that does not exist yet is checked through
// its nearest existing parent.
func ValidatePathWithinDirectory(filePath, dir string) error {
	canonicalPath, err := canonical(filePath)
	if err != nil {
		return err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory %q: %w", dir, err)
	}
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory %q: %w", dir, err)
	}

	rel, err := filepath.Rel(canonicalDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("%w: %s is outside %s", ErrUnsafePath, filePath, dir)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s escapes %s", ErrUnsafePath, filePath, dir)
	}
	return nil
}

// canonical returns the absolute, symlink-free form of p. Missing trailing
// components are joined back onto the resolved parent.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", p, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest), nil
		}
		if parent := filepath.Dir(dir); parent == dir {
			return abs, nil
		}
	}
}
