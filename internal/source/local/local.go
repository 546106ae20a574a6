// Package local enumerates images on the server's filesystem.
package local

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vbonduro/vowselect/internal/domain"
	"github.com/vbonduro/vowselect/internal/source"
)

// Scanner walks folders below an optional root. When root is set, folders
// outside it are rejected.
type Scanner struct {
	root string
}

func NewScanner(root string) *Scanner {
	return &Scanner{root: root}
}

// Scan returns every image below folder, recursively, sorted by path.
func (s *Scanner) Scan(folder string) ([]source.Item, error) {
	dir, err := s.resolve(folder)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: folder %q does not exist", domain.ErrInvalidInput, folder)
	}

	var items []source.Item
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !source.IsImageName(d.Name()) {
			return nil
		}
		items = append(items, source.Item{ID: path, Name: d.Name(), Path: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan folder %q: %w", folder, err)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}

// Read loads one scanned file.
func (s *Scanner) Read(item source.Item) ([]byte, error) {
	data, err := os.ReadFile(item.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", item.Path, err)
	}
	return data, nil
}

func (s *Scanner) resolve(folder string) (string, error) {
	if strings.TrimSpace(folder) == "" {
		return "", fmt.Errorf("%w: folder path is required", domain.ErrInvalidInput)
	}
	abs, err := filepath.Abs(folder)
	if err != nil {
		return "", fmt.Errorf("%w: invalid folder path: %v", domain.ErrInvalidInput, err)
	}
	if s.root == "" {
		return abs, nil
	}

	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		return "", fmt.Errorf("invalid import root: %w", err)
	}
	if abs != absRoot && !strings.HasPrefix(abs, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: folder %q is outside the import root", domain.ErrInvalidInput, folder)
	}
	return abs, nil
}
