package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// defaultImagePatterns select image files when a directory is expanded
// without --include.
var defaultImagePatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.bmp", "*.tif", "*.tiff", "*.webp",
}

// fileFilter selects inputs by base name.
type fileFilter struct {
	recursive bool
	include   []string
	exclude   []string
}

// discoverInputs expands directory arguments into their image files. Files
// named explicitly are kept unless excluded.
func (f fileFilter) discoverInputs(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			// Missing files surface as read errors with the file name.
			files = append(files, arg)
			continue
		}
		if !info.IsDir() {
			if !matchesAnyPattern(arg, f.exclude) {
				files = append(files, arg)
			}
			continue
		}
		found, err := f.walk(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot scan %s: %w", arg, err)
		}
		files = append(files, found...)
	}
	return files, nil
}

func (f fileFilter) walk(dir string) ([]string, error) {
	include := f.include
	if len(include) == 0 {
		include = defaultImagePatterns
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !f.recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if matchesAnyPattern(path, f.exclude) || !matchesAnyPattern(path, include) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	sort.Strings(files)
	return files, err
}

// matchesAnyPattern reports whether the base name of path matches one of
// patterns, ignoring case.
func matchesAnyPattern(path string, patterns []string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(strings.ToLower(pattern), base); matched {
			return true
		}
	}
	return false
}
