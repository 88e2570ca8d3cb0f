package utils

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// CleanSlashPath returns p as a cleaned absolute slash-separated path.
// It fails when p climbs above the root.
func CleanSlashPath(p string) (string, error) {
	if p == "" {
		return "/", nil
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	depth := 0
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return "", fmt.Errorf("path escapes root: %s", p)
			}
		default:
			depth++
		}
	}
	return path.Clean(p), nil
}

// SecureJoin joins a slash-separated virtual path onto a local base directory
// and verifies the result stays within base.
//
//	full, err := SecureJoin("/srv/namedfs", "/data/in.csv")
func SecureJoin(base, virtual string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}
	clean, err := CleanSlashPath(virtual)
	if err != nil {
		return "", err
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(cleanBase, filepath.FromSlash(clean))
	if fullPath != cleanBase && !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory")
	}
	return fullPath, nil
}
