package util

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

//SearchFile looks for filename in each of searchPaths, ignoring case the
//way the Windows loader does, and returns the first match
func SearchFile(searchPaths []string, filename string) (string, error) {
	for i := 0; i < len(searchPaths); i++ {
		files, err := os.ReadDir(searchPaths[i])
		if err != nil {
			return "", errors.Errorf("directory '%s' not found", searchPaths[i])
		}
		for _, file := range files {
			if StringIEquals(file.Name(), filename) {
				return filepath.Join(searchPaths[i], file.Name()), nil
			}
		}
	}

	return "", errors.Errorf("file '%s' not found", filename)
}

// FileBase returns the final component of a path. Both '\' and '/' are
// treated as separators, whatever the host OS.
func FileBase(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// StringIEquals compares two strings ignoring case.
func StringIEquals(a, b string) bool {
	return strings.EqualFold(a, b)
}

// IStringEndsWith reports whether s ends with suffix, ignoring case.
func IStringEndsWith(s, suffix string) bool {
	if len(suffix) > len(s) {
		return false
	}
	return strings.EqualFold(s[len(s)-len(suffix):], suffix)
}
