// Package pathkey converts between ZooKeeper node paths and flat
// configuration keys. A node path is rooted at a configured prefix
// (e.g. /config), and the key for a node is its path relative to that
// prefix with the path separators replaced by the key delimiter, so
// /config/db/host becomes "db:host".
package pathkey

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// PathSeparator separates node names in a ZooKeeper path.
	PathSeparator = "/"
	// KeyDelimiter separates segments in a flattened configuration key.
	KeyDelimiter = ":"
)

var ErrInvalidPath = errors.New("pathkey: invalid path")

// ToKey converts an absolute node path into a configuration key relative to
// rootPath. The root path itself maps to the empty key; the empty key never
// names a real setting and callers are expected to exclude it from any
// published map.
func ToKey(path, rootPath string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if !strings.HasPrefix(path, rootPath) {
		return "", fmt.Errorf("%w: %q is outside the root %q", ErrInvalidPath, path, rootPath)
	}

	key := strings.TrimPrefix(path, rootPath)
	key = strings.Trim(key, PathSeparator)
	return strings.ReplaceAll(key, PathSeparator, KeyDelimiter), nil
}

// ToPath is the inverse of ToKey: it rebuilds the absolute node path for a
// configuration key below parentPath. The only validation performed is that
// the parent is non-empty; keys are trusted to have come from ToKey.
func ToPath(key, parentPath string) (string, error) {
	if parentPath == "" {
		return "", fmt.Errorf("%w: empty parent path", ErrInvalidPath)
	}
	if key == "" {
		return parentPath, nil
	}
	return Join(parentPath, strings.ReplaceAll(key, KeyDelimiter, PathSeparator)), nil
}

// Join appends a child name (or a relative path) to a parent node path.
func Join(parentPath, childName string) string {
	return strings.TrimSuffix(parentPath, PathSeparator) + PathSeparator + childName
}

// Parent returns the path one level up. The parent of a top level node is
// the root "/".
func Parent(path string) string {
	names := SplitPath(path)
	if len(names) <= 1 {
		return PathSeparator
	}
	return PathSeparator + strings.Join(names[:len(names)-1], PathSeparator)
}

// LastName returns the final node name of a path, empty for the root.
func LastName(path string) string {
	names := SplitPath(path)
	if len(names) == 0 {
		return ""
	}
	return names[len(names)-1]
}

// SplitPath breaks an absolute path into its node names. Since the path has
// a leading separator, the first element of the raw split is empty and is
// dropped.
func SplitPath(path string) []string {
	trimmed := strings.Trim(path, PathSeparator)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, PathSeparator)
}

// ValidateRootPath verifies that a configured root prefix is a well formed
// node path. "/" is allowed and mirrors the entire tree.
func ValidateRootPath(path string) error {
	if path == PathSeparator {
		return nil
	}

	if !strings.HasPrefix(path, PathSeparator) {
		return fmt.Errorf("%w: %q does not start at the root", ErrInvalidPath, path)
	}
	if strings.HasSuffix(path, PathSeparator) {
		return fmt.Errorf("%w: %q should end in a node name, not %q", ErrInvalidPath, path, PathSeparator)
	}
	for _, name := range SplitPath(path) {
		if name == "" {
			return fmt.Errorf("%w: %q contains an empty node name", ErrInvalidPath, path)
		}
	}
	return nil
}
